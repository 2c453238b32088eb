package edgefile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// ErrEmptyFile is returned by FirstLine and LastLine for a file without edges.
var ErrEmptyFile = errors.New("file has no edges")

// Edge is a directed edge.
type Edge struct {
	Source int64
	Target int64
}

func (e Edge) String() string {
	return FormatEdge(e)
}

// Reversed returns the edge pointing the other way.
func (e Edge) Reversed() Edge {
	return Edge{Source: e.Target, Target: e.Source}
}

// Undirected returns the edge with the smaller endpoint first.
func (e Edge) Undirected() Edge {
	if e.Source > e.Target {
		return e.Reversed()
	}
	return e
}

// Compare orders edges by (source, target).
func Compare(a, b Edge) int {
	switch {
	case a.Source < b.Source:
		return -1
	case a.Source > b.Source:
		return 1
	case a.Target < b.Target:
		return -1
	case a.Target > b.Target:
		return 1
	}
	return 0
}

// FormatEdge renders an edge as a file line without the newline.
func FormatEdge(e Edge) string {
	return strconv.FormatInt(e.Source, 10) + " " + strconv.FormatInt(e.Target, 10)
}

// ParseEdge parses a "<source> <target>" line. Extra fields are ignored.
func ParseEdge(line string) (Edge, error) {
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return Edge{}, fmt.Errorf("parse edge %q: want two fields", line)
	}
	src, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Edge{}, fmt.Errorf("parse edge %q: %w", line, err)
	}
	dst, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Edge{}, fmt.Errorf("parse edge %q: %w", line, err)
	}
	return Edge{Source: src, Target: dst}, nil
}

// SourceOf returns the source vertex of an edge line.
func SourceOf(line string) (int64, error) {
	e, err := ParseEdge(line)
	return e.Source, err
}

// skip reports whether a line carries no edge (blank or comment).
func skip(line string) bool {
	line = strings.TrimSpace(line)
	return line == "" || strings.HasPrefix(line, "#")
}

// Scan calls fn for every edge line in r, in file order.
func Scan(r io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if skip(line) {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// ReadAll returns every edge line of the file at path.
func ReadAll(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	err = Scan(f, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// ReadEdges parses every edge of the file at path.
func ReadEdges(path string) ([]Edge, error) {
	lines, err := ReadAll(path)
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, len(lines))
	for _, l := range lines {
		e, err := ParseEdge(l)
		if err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// WriteAll replaces the file at path with lines, one per line.
func WriteAll(path string, lines []string) error {
	return writeLines(path, lines, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
}

// AppendLines appends lines to the file at path, creating it if needed.
func AppendLines(path string, lines []string) error {
	return writeLines(path, lines, os.O_CREATE|os.O_WRONLY|os.O_APPEND)
}

func writeLines(path string, lines []string, flag int) error {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l); err != nil {
			f.Close()
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SortLines orders edge lines numerically by (source, target).
func SortLines(lines []string) error {
	edges := make([]Edge, len(lines))
	for i, l := range lines {
		e, err := ParseEdge(l)
		if err != nil {
			return err
		}
		edges[i] = e
	}
	slices.SortFunc(edges, Compare)
	for i, e := range edges {
		lines[i] = FormatEdge(e)
	}
	return nil
}

// SortByLeadingInt sorts the file at path in place by (source, target).
func SortByLeadingInt(path string) error {
	lines, err := ReadAll(path)
	if err != nil {
		return err
	}
	if err := SortLines(lines); err != nil {
		return fmt.Errorf("sort %s: %w", path, err)
	}
	return WriteAll(path, lines)
}

// CountLines returns the number of edge lines in the file at path.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	err = Scan(f, func(string) error {
		n++
		return nil
	})
	return n, err
}

// FirstLine returns the first edge line of the file at path.
func FirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	errStop := errors.New("stop")
	var first string
	err = Scan(f, func(line string) error {
		first = line
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", err
	}
	if first == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	return first, nil
}

// LastLine returns the last edge line of the file at path.
func LastLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var last string
	err = Scan(f, func(line string) error {
		last = line
		return nil
	})
	if err != nil {
		return "", err
	}
	if last == "" {
		return "", fmt.Errorf("%s: %w", path, ErrEmptyFile)
	}
	return last, nil
}
