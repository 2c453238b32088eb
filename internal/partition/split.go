package partition

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/dreamware/graphscale/internal/edgefile"
)

// Part is one partition produced by Split: its metadata and the file holding
// its edges, sorted by (source, target).
type Part struct {
	Metadata
	Path string
}

// Split divides the graph at graphPath into n vertex-contiguous partitions,
// makes them bidirectional and writes each to its own file under dir.
//
// Chunks are cut by line count but never split the edges of one source
// vertex: a chunk keeps reading past its boundary until the current source is
// exhausted and the remainder folds into the next chunk. Graphs with fewer
// sources than workers leave some partitions empty.
func Split(graphPath string, n int, dir string) ([]Part, error) {
	if n < 1 {
		return nil, fmt.Errorf("split into %d partitions: need at least one", n)
	}
	original, err := edgefile.ReadEdges(graphPath)
	if err != nil {
		return nil, fmt.Errorf("read graph: %w", err)
	}
	if len(original) == 0 {
		return nil, fmt.Errorf("graph %s: %w", graphPath, edgefile.ErrEmptyFile)
	}

	sorted := slices.Clone(original)
	slices.SortFunc(sorted, edgefile.Compare)
	chunks := Chunk(sorted, n)

	metas := Ranges(chunks)
	reg := NewRegistry(metas)
	chunks, err = MakeBidirectional(chunks, reg, original)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	parts := make([]Part, n)
	for i, edges := range chunks {
		slices.SortFunc(edges, edgefile.Compare)
		meta := metas[i]
		meta.EdgeCount = len(edges)
		if len(edges) > 0 {
			meta.MinVertex = min(meta.MinVertex, edges[0].Source)
			meta.MaxVertex = max(meta.MaxVertex, edges[len(edges)-1].Source)
		}

		path := filepath.Join(dir, uuid.NewString()+".txt")
		lines := make([]string, len(edges))
		for j, e := range edges {
			lines[j] = edgefile.FormatEdge(e)
		}
		if err := edgefile.WriteAll(path, lines); err != nil {
			return nil, fmt.Errorf("write partition %d: %w", i, err)
		}
		parts[i] = Part{Metadata: meta, Path: path}
	}
	return parts, nil
}

// Chunk cuts edges, sorted by source, into n roughly equal runs without
// splitting any source vertex's edges across runs.
func Chunk(sorted []edgefile.Edge, n int) [][]edgefile.Edge {
	chunks := make([][]edgefile.Edge, n)
	start := 0
	for i := 0; i < n; i++ {
		end := len(sorted)
		if i < n-1 {
			end = max(start, (i+1)*len(sorted)/n)
			for end > start && end < len(sorted) && sorted[end].Source == sorted[end-1].Source {
				end++
			}
		}
		chunks[i] = slices.Clone(sorted[start:end])
		start = end
	}
	return chunks
}

// Ranges assigns contiguous vertex ranges to the chunks: each non-empty chunk
// owns from its first source up to just below the next non-empty chunk's first
// source; the last owns up to its own last source. Empty chunks own nothing.
func Ranges(chunks [][]edgefile.Edge) []Metadata {
	metas := make([]Metadata, len(chunks))
	prev := -1
	for i, c := range chunks {
		metas[i] = Metadata{WorkerID: i, MinVertex: 0, MaxVertex: -1, EdgeCount: len(c)}
		if len(c) == 0 {
			continue
		}
		metas[i].MinVertex = c[0].Source
		metas[i].MaxVertex = c[len(c)-1].Source
		if prev >= 0 {
			metas[prev].MaxVertex = c[0].Source - 1
		}
		prev = i
	}
	return metas
}

// MakeBidirectional adds, for every original edge, its reverse to the
// partition owning the reversed source. Edges already present are not added
// again, so applying it twice yields the same partitions as applying it once.
func MakeBidirectional(chunks [][]edgefile.Edge, reg *Registry, original []edgefile.Edge) ([][]edgefile.Edge, error) {
	seen := make([]map[edgefile.Edge]struct{}, len(chunks))
	out := make([][]edgefile.Edge, len(chunks))
	for i, c := range chunks {
		seen[i] = make(map[edgefile.Edge]struct{}, len(c))
		for _, e := range c {
			if _, dup := seen[i][e]; dup {
				continue
			}
			seen[i][e] = struct{}{}
			out[i] = append(out[i], e)
		}
	}

	for _, e := range original {
		rev := e.Reversed()
		owner, err := reg.ResolveOwner(rev.Source)
		if err != nil {
			return nil, fmt.Errorf("make bidirectional: %w", err)
		}
		if owner < 0 || owner >= len(out) {
			return nil, fmt.Errorf("make bidirectional: owner %d out of range", owner)
		}
		if _, dup := seen[owner][rev]; dup {
			continue
		}
		seen[owner][rev] = struct{}{}
		out[owner] = append(out[owner], rev)
	}
	return out, nil
}
