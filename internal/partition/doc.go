// Package partition owns the vertex-range partitioning of a graph: the
// per-worker metadata, the registry that routes vertices to workers, and the
// master-side splitter that produces the partitions.
//
// Each worker owns a contiguous inclusive range of vertex ids. Split sorts
// the edges by source, cuts them into chunks without separating a source's
// edges, then adds the reverse of every edge to the partition owning its
// target. Vertices below every range resolve to the lowest non-empty
// partition and vertices above every range to the highest.
package partition
