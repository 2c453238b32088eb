package partition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/graphscale/internal/cluster"
)

func threeParts() []Metadata {
	return []Metadata{
		{WorkerID: 2, MinVertex: 80, MaxVertex: 99, EdgeCount: 10},
		{WorkerID: 0, MinVertex: 0, MaxVertex: 39, EdgeCount: 30},
		{WorkerID: 1, MinVertex: 40, MaxVertex: 79, EdgeCount: 20},
	}
}

func TestRegistryOrderAndTotals(t *testing.T) {
	r := NewRegistry(threeParts())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 60, r.TotalEdges())
	for i, p := range r.All() {
		assert.Equal(t, i, p.WorkerID)
	}

	b, ok := r.Bottom()
	require.True(t, ok)
	assert.Equal(t, 0, b.WorkerID)
	top, ok := r.Top()
	require.True(t, ok)
	assert.Equal(t, 2, top.WorkerID)

	_, ok = r.Get(7)
	assert.False(t, ok)
}

func TestResolveOwner(t *testing.T) {
	r := NewRegistry(threeParts())
	tests := []struct {
		vertex int64
		want   int
	}{
		{0, 0},
		{39, 0},
		{40, 1},
		{79, 1},
		{99, 2},
		{-5, 0},   // below every range
		{1000, 2}, // above every range
	}
	for _, tt := range tests {
		got, err := r.ResolveOwner(tt.vertex)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "vertex %d", tt.vertex)
	}
}

func TestResolveOwnerSkipsEmptyPartitions(t *testing.T) {
	r := NewRegistry([]Metadata{
		{WorkerID: 0, MinVertex: 5, MaxVertex: 9},
		{WorkerID: 1, MinVertex: 0, MaxVertex: -1},
		{WorkerID: 2, MinVertex: 0, MaxVertex: -1},
	})
	top, ok := r.Top()
	require.True(t, ok)
	assert.Equal(t, 0, top.WorkerID)
	owner, err := r.ResolveOwner(100)
	require.NoError(t, err)
	assert.Equal(t, 0, owner)

	empty := NewRegistry([]Metadata{{WorkerID: 0, MinVertex: 0, MaxVertex: -1}})
	_, err = empty.ResolveOwner(3)
	assert.True(t, errors.Is(err, ErrUnresolvedVertex))
}

func TestResolveConnection(t *testing.T) {
	parts := threeParts()
	parts[1].SetAddress(cluster.Address{Host: "w0", Port: 4000})
	r := NewRegistry(parts)

	addr, err := r.ResolveConnection(12)
	require.NoError(t, err)
	assert.Equal(t, cluster.Address{Host: "w0", Port: 4000}, addr)

	_, err = r.ResolveConnection(50)
	assert.True(t, errors.Is(err, ErrUnresolvedVertex), "unregistered owner")
}

func TestRegistryDoesNotAlias(t *testing.T) {
	parts := threeParts()
	parts[0].SetAddress(cluster.Address{Host: "a", Port: 1})
	r := NewRegistry(parts)

	parts[0].Address.Host = "mutated"
	p, ok := r.Get(2)
	require.True(t, ok)
	assert.Equal(t, "a", p.Address.Host)

	p.ClearAddress()
	again, _ := r.Get(2)
	assert.True(t, again.Registered())
}
