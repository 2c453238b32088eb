package partition

import (
	"errors"
	"fmt"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphscale/internal/cluster"
)

// ErrUnresolvedVertex means no partition owns a vertex even after the
// bottom/top fallback. It indicates a partitioning bug and is fatal.
var ErrUnresolvedVertex = errors.New("vertex not owned by any partition")

// Metadata describes one worker's partition.
//
// Ranges across all partitions are contiguous and non-overlapping. An empty
// partition (a worker that received no edges) has MinVertex > MaxVertex and
// owns nothing. Address stays nil until the worker registers and is cleared
// again when the master detects the worker has failed.
type Metadata struct {
	// WorkerID identifies the worker; partitions are numbered from zero.
	WorkerID int `json:"worker_id"`

	// MinVertex and MaxVertex bound the owned vertex ids, inclusive.
	MinVertex int64 `json:"min_vertex"`
	MaxVertex int64 `json:"max_vertex"`

	// EdgeCount is the number of edge lines in the partition file.
	EdgeCount int `json:"edge_count"`

	// Address is the worker's inbound listener, nil while unregistered.
	Address *cluster.Address `json:"address,omitempty"`
}

// HasVertex reports whether v falls inside the owned range.
func (m Metadata) HasVertex(v int64) bool {
	return m.MinVertex <= v && v <= m.MaxVertex
}

// Empty reports whether the partition owns no vertex range.
func (m Metadata) Empty() bool {
	return m.MinVertex > m.MaxVertex
}

// Registered reports whether the worker has announced its address.
func (m Metadata) Registered() bool {
	return m.Address != nil
}

// SetAddress records the worker's listener address.
func (m *Metadata) SetAddress(addr cluster.Address) {
	a := addr
	m.Address = &a
}

// ClearAddress marks the worker unregistered.
func (m *Metadata) ClearAddress() {
	m.Address = nil
}

// clone returns a deep copy so registry snapshots never alias mutable state.
func (m Metadata) clone() Metadata {
	if m.Address != nil {
		a := *m.Address
		m.Address = &a
	}
	return m
}

// Registry is an immutable, ordered view of every partition's metadata.
//
// It serves as the routing table on both sides of the protocol:
//
//	vertex id → owning partition → worker id / listener address
//	     42   →   [40, 79]       →     1     / host-b:41233
//
// The master builds a fresh Registry from its worker table whenever a
// registration round completes and broadcasts it in a META_DATA message;
// workers replace their copy when that message arrives. Because a Registry
// is never mutated after construction it needs no locking.
//
// Vertices outside every range resolve to the bottom layer (below the global
// minimum) or the top layer (above the global maximum). Making partitions
// bidirectional can surface edges just outside a neighbour's observed bounds,
// and the fallback keeps such vertices routable.
type Registry struct {
	partitions []Metadata
	bottom     int // index into partitions, -1 when every partition is empty
	top        int
}

// NewRegistry builds a registry from per-worker metadata. The input is copied
// and ordered by worker id; bottom and top layers are computed once here.
func NewRegistry(parts []Metadata) *Registry {
	r := &Registry{
		partitions: make([]Metadata, 0, len(parts)),
		bottom:     -1,
		top:        -1,
	}
	for _, p := range parts {
		r.partitions = append(r.partitions, p.clone())
	}
	slices.SortFunc(r.partitions, func(a, b Metadata) int {
		return a.WorkerID - b.WorkerID
	})

	for i, p := range r.partitions {
		if p.Empty() {
			continue
		}
		if r.bottom < 0 || p.MinVertex < r.partitions[r.bottom].MinVertex {
			r.bottom = i
		}
		if r.top < 0 || p.MaxVertex > r.partitions[r.top].MaxVertex {
			r.top = i
		}
	}
	return r
}

// Len returns the number of partitions.
func (r *Registry) Len() int {
	return len(r.partitions)
}

// All returns a copy of every partition, ordered by worker id.
func (r *Registry) All() []Metadata {
	out := make([]Metadata, len(r.partitions))
	for i, p := range r.partitions {
		out[i] = p.clone()
	}
	return out
}

// Get returns the metadata for a worker.
func (r *Registry) Get(workerID int) (Metadata, bool) {
	i := slices.IndexFunc(r.partitions, func(m Metadata) bool { return m.WorkerID == workerID })
	if i < 0 {
		return Metadata{}, false
	}
	return r.partitions[i].clone(), true
}

// Bottom returns the partition with the lowest range.
func (r *Registry) Bottom() (Metadata, bool) {
	if r.bottom < 0 {
		return Metadata{}, false
	}
	return r.partitions[r.bottom].clone(), true
}

// Top returns the partition with the highest range.
func (r *Registry) Top() (Metadata, bool) {
	if r.top < 0 {
		return Metadata{}, false
	}
	return r.partitions[r.top].clone(), true
}

// TotalEdges sums the edge counts of every partition.
func (r *Registry) TotalEdges() int {
	total := 0
	for _, p := range r.partitions {
		total += p.EdgeCount
	}
	return total
}

// ResolveOwner returns the worker id that owns vertex v, applying the
// bottom/top fallback for vertices outside the global bounds.
func (r *Registry) ResolveOwner(v int64) (int, error) {
	i, err := r.resolve(v)
	if err != nil {
		return 0, err
	}
	return r.partitions[i].WorkerID, nil
}

// ResolveConnection returns the listener address of the worker owning v.
// An owner that has not registered yet is reported as ErrUnresolvedVertex.
func (r *Registry) ResolveConnection(v int64) (cluster.Address, error) {
	i, err := r.resolve(v)
	if err != nil {
		return cluster.Address{}, err
	}
	p := r.partitions[i]
	if p.Address == nil {
		return cluster.Address{}, fmt.Errorf("%w: vertex %d owner %d has no address", ErrUnresolvedVertex, v, p.WorkerID)
	}
	return *p.Address, nil
}

func (r *Registry) resolve(v int64) (int, error) {
	if r.bottom < 0 {
		return 0, fmt.Errorf("%w: vertex %d, registry has no vertices", ErrUnresolvedVertex, v)
	}
	if v < r.partitions[r.bottom].MinVertex {
		return r.bottom, nil
	}
	if v > r.partitions[r.top].MaxVertex {
		return r.top, nil
	}
	for i, p := range r.partitions {
		if p.HasVertex(v) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: vertex %d", ErrUnresolvedVertex, v)
}
