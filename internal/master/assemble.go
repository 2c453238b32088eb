package master

import (
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphscale/internal/edgefile"
)

// Assemble merges the workers' backups, and the original edges when the
// method grows the graph, into the lines of the scaled graph. Every edge is
// normalized to (smaller, larger) so that an edge and its reverse, as
// produced by the bidirectional partitions, collapse into one line. The
// result is sorted by (source, target).
func Assemble(backups [][]string, original []edgefile.Edge) ([]string, error) {
	seen := make(map[edgefile.Edge]struct{})
	for _, lines := range backups {
		for _, l := range lines {
			e, err := edgefile.ParseEdge(l)
			if err != nil {
				return nil, fmt.Errorf("backup: %w", err)
			}
			seen[e.Undirected()] = struct{}{}
		}
	}
	for _, e := range original {
		seen[e.Undirected()] = struct{}{}
	}

	edges := make([]edgefile.Edge, 0, len(seen))
	for e := range seen {
		edges = append(edges, e)
	}
	slices.SortFunc(edges, edgefile.Compare)
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = edgefile.FormatEdge(e)
	}
	return out, nil
}

// assemble writes the scaled graph to the output path and returns its size.
func (m *Master) assemble() (int, error) {
	table := m.table.Load()
	backups := make([][]string, 0, table.Len())
	for _, id := range table.IDs() {
		rec, _ := table.Get(id)
		backups = append(backups, rec.Backup)
	}

	var original []edgefile.Edge
	if m.method.Upscales() {
		var err error
		if original, err = edgefile.ReadEdges(m.cfg.GraphPath); err != nil {
			return 0, fmt.Errorf("read original graph: %w", err)
		}
	}

	lines, err := Assemble(backups, original)
	if err != nil {
		return 0, err
	}
	if err := edgefile.WriteAll(m.cfg.OutputPath, lines); err != nil {
		return 0, fmt.Errorf("write %s: %w", m.cfg.OutputPath, err)
	}
	return len(lines), nil
}
