package algorithm

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// Method names a scaling algorithm.
type Method string

const (
	// RandomWalk downscales by walking the graph; the master stops it at the goal size.
	RandomWalk Method = "random_walk"
	// RandomEdge downscales by sampling distinct local edges up to a per-worker quota.
	RandomEdge Method = "random_edge"
	// DegreeGrowth upscales by adding degree-weighted edges up to a per-worker quota.
	DegreeGrowth Method = "degree_growth"
)

// Methods lists every supported method.
var Methods = []Method{RandomWalk, RandomEdge, DegreeGrowth}

// ParseMethod validates a method name.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !slices.Contains(Methods, m) {
		return "", fmt.Errorf("unknown method %q, want one of %v", s, Methods)
	}
	return m, nil
}

// GoalDriven reports whether the master decides when the job is done by
// polling progress. Other methods finish on their own once their quota is met.
func (m Method) GoalDriven() bool {
	return m == RandomWalk
}

// UsesWalkers reports whether the method moves work units between workers.
func (m Method) UsesWalkers() bool {
	return m == RandomWalk
}

// Upscales reports whether the output is merged with the original graph.
func (m Method) Upscales() bool {
	return m == DegreeGrowth
}

// ValidateScale checks that scale makes sense for the method.
func (m Method) ValidateScale(scale float64) error {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return fmt.Errorf("scale must be a positive number, got %v", scale)
	}
	if m.Upscales() && scale <= 1 {
		return fmt.Errorf("%s grows the graph, scale must be above 1, got %v", m, scale)
	}
	if !m.Upscales() && scale > 1 {
		return fmt.Errorf("%s shrinks the graph, scale must be at most 1, got %v", m, scale)
	}
	return nil
}

// Goal returns the total progress at which a goal-driven job completes.
func Goal(totalEdges int, scale float64) float64 {
	return float64(totalEdges) * scale
}

// Quota returns how many edges a self-completing worker produces from a
// partition with localEdges edges.
func (m Method) Quota(localEdges int, scale float64) int {
	factor := scale
	if m.Upscales() {
		factor = scale - 1
	}
	return int(math.Ceil(float64(localEdges) * factor))
}
