// Package edgefile reads and writes edge-list files: one directed edge per
// line, "<source> <target>", both non-negative integers. Blank lines and
// lines starting with '#' are skipped.
package edgefile
