// Package algorithm holds the graph sampling methods run by workers. The
// coordination layer only sees the Method contract and Graph stepping; the
// methods themselves are replaceable.
package algorithm
