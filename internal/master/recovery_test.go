package master

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedistribute(t *testing.T) {
	tests := []struct {
		name     string
		workers  int
		wpw      int
		reported map[int]int
		failed   []int
		want     map[int]int
	}{
		{
			name:     "single failure gets every lost walker",
			workers:  3,
			wpw:      4,
			reported: map[int]int{0: 5, 2: 3},
			failed:   []int{1},
			want:     map[int]int{1: 4},
		},
		{
			name:     "walkers that moved to survivors are not lost",
			workers:  2,
			wpw:      4,
			reported: map[int]int{1: 8},
			failed:   []int{0},
			want:     map[int]int{0: 0},
		},
		{
			name:     "uneven split serves failed workers in id order",
			workers:  4,
			wpw:      2,
			reported: map[int]int{0: 1, 3: 2},
			failed:   []int{2, 1},
			want:     map[int]int{1: 3, 2: 2},
		},
		{
			name:     "ceiling share runs out before the last worker",
			workers:  4,
			wpw:      1,
			reported: map[int]int{0: 0},
			failed:   []int{3, 1, 2},
			want:     map[int]int{1: 2, 2: 2, 3: 0},
		},
		{
			name:     "survivors over-reporting never yields negative shares",
			workers:  2,
			wpw:      1,
			reported: map[int]int{0: 5},
			failed:   []int{1},
			want:     map[int]int{1: 0},
		},
		{
			name:     "methods without walkers",
			workers:  3,
			wpw:      0,
			reported: map[int]int{0: 0, 1: 0},
			failed:   []int{2},
			want:     map[int]int{2: 0},
		},
		{
			name:     "no failures",
			workers:  3,
			wpw:      5,
			reported: map[int]int{0: 5, 1: 5, 2: 5},
			want:     map[int]int{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redistribute(tt.workers, tt.wpw, tt.reported, tt.failed))
		})
	}
}

// TestRedistributeConservesWalkers checks that after any recovery the walkers
// in the system add up to the initial population.
func TestRedistributeConservesWalkers(t *testing.T) {
	for workers := 1; workers <= 6; workers++ {
		for wpw := 0; wpw <= 5; wpw++ {
			for nFailed := 1; nFailed <= workers; nFailed++ {
				failed := make([]int, 0, nFailed)
				for i := 0; i < nFailed; i++ {
					failed = append(failed, i)
				}
				// survivors hold a skewed subset of the population
				reported := map[int]int{}
				held := 0
				for id := nFailed; id < workers; id++ {
					c := (id * 7) % (wpw + 1)
					reported[id] = c
					held += c
				}
				if held > workers*wpw {
					continue
				}

				shares := Redistribute(workers, wpw, reported, failed)
				total := held
				for _, s := range shares {
					assert.GreaterOrEqual(t, s, 0)
					total += s
				}
				assert.Equal(t, workers*wpw, total, "workers=%d wpw=%d failed=%d", workers, wpw, nFailed)
				assert.Len(t, shares, nFailed)
			}
		}
	}
}
