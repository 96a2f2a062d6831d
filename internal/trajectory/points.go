// Package trajectory generates the gait geometry: Bezier swing-foot arcs and
// the zero-moment-point reference path, in space and in time. Every function
// is pure.
package trajectory

import (
	"math"

	"github.com/golang/geo/r2"
)

// Sample is a reference point at time T, in seconds from the start of the
// trajectory.
type Sample struct {
	r2.Point
	T float64
}

// sampleCount is floor(1/increment) - offset, never negative. The epsilon
// absorbs representation error such as 1/0.1 landing just below 10.
func sampleCount(increment float64, offset int) int {
	n := int(math.Floor(1/increment+1e-9)) - offset
	if n < 0 {
		return 0
	}
	return n
}

// Linear samples the segment a→b at parameters (offset+k)·increment for
// k in [0, floor(1/increment)-offset). The end point b itself is not emitted.
func Linear(a, b r2.Point, increment float64, offset int) []r2.Point {
	n := sampleCount(increment, offset)
	delta := b.Sub(a)
	out := make([]r2.Point, n)
	for k := 0; k < n; k++ {
		t := float64(offset+k) * increment
		out[k] = a.Add(delta.Mul(t))
	}
	return out
}

// Interleave merges two placement sequences, first[0], second[0], first[1], ...
// Leftover points of the longer sequence are appended in order.
func Interleave(first, second []r2.Point) []r2.Point {
	out := make([]r2.Point, 0, len(first)+len(second))
	for i := 0; i < len(first) || i < len(second); i++ {
		if i < len(first) {
			out = append(out, first[i])
		}
		if i < len(second) {
			out = append(out, second[i])
		}
	}
	return out
}

// AppendRows concatenates point sequences.
func AppendRows(seqs ...[]r2.Point) []r2.Point {
	n := 0
	for _, s := range seqs {
		n += len(s)
	}
	out := make([]r2.Point, 0, n)
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

// AppendColumns attaches a time column to points, starting at t0 and
// advancing dt per point.
func AppendColumns(points []r2.Point, t0, dt float64) []Sample {
	out := make([]Sample, len(points))
	for i, p := range points {
		out[i] = Sample{Point: p, T: t0 + float64(i)*dt}
	}
	return out
}
