package edgefile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "edges.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseEdge(t *testing.T) {
	e, err := ParseEdge("  12\t7  weight")
	require.NoError(t, err)
	assert.Equal(t, Edge{Source: 12, Target: 7}, e)
	assert.Equal(t, "12 7", e.String())
	assert.Equal(t, Edge{Source: 7, Target: 12}, e.Undirected())
	assert.Equal(t, e.Undirected(), e.Reversed().Undirected())

	for _, bad := range []string{"", "3", "a 1", "1 b"} {
		_, err := ParseEdge(bad)
		assert.Error(t, err, "line %q", bad)
	}
}

func TestReadSkipsBlankAndComments(t *testing.T) {
	path := writeFile(t, "# header\n0 1\n\n  1 2 \n# trailing\n")
	lines, err := ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0 1", "1 2"}, lines)

	n, err := CountLines(path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := FirstLine(path)
	require.NoError(t, err)
	assert.Equal(t, "0 1", first)
	last, err := LastLine(path)
	require.NoError(t, err)
	assert.Equal(t, "1 2", last)
}

func TestEmptyFile(t *testing.T) {
	path := writeFile(t, "# nothing here\n")
	_, err := FirstLine(path)
	assert.True(t, errors.Is(err, ErrEmptyFile))
	_, err = LastLine(path)
	assert.True(t, errors.Is(err, ErrEmptyFile))

	_, err = ReadAll(filepath.Join(t.TempDir(), "missing"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteAndAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, WriteAll(path, []string{"1 2"}))
	require.NoError(t, AppendLines(path, []string{"3 4", "5 6"}))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1 2\n3 4\n5 6\n", string(data))

	require.NoError(t, WriteAll(path, nil))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data, "WriteAll truncates")
}

func TestSortByLeadingInt(t *testing.T) {
	path := writeFile(t, "10 2\n9 5\n10 1\n2 30\n")
	require.NoError(t, SortByLeadingInt(path))
	lines, err := ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"2 30", "9 5", "10 1", "10 2"}, lines, "numeric, not lexical")

	bad := writeFile(t, "1 2\nx y\n")
	assert.Error(t, SortByLeadingInt(bad))
}

func TestReadEdges(t *testing.T) {
	edges, err := ReadEdges(writeFile(t, "0 1\n1 2\n"))
	require.NoError(t, err)
	assert.Equal(t, []Edge{{0, 1}, {1, 2}}, edges)

	_, err = ReadEdges(writeFile(t, "0 1\noops\n"))
	assert.Error(t, err)
}

func TestScanStops(t *testing.T) {
	stop := errors.New("stop")
	seen := 0
	err := Scan(strings.NewReader("0 1\n1 2\n2 3\n"), func(string) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}
