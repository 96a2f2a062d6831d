package trajectory

import (
	"math"

	"github.com/golang/geo/r2"
)

const swingSamples = 100

// BezierSwing samples a cubic Bezier arc from a to d at t = 0, 0.01, ..., 0.99.
// The inner control points leave a along startAngle and arrive at d along
// endAngle (radians), each lift away from its end point.
func BezierSwing(a, d r2.Point, startAngle, endAngle, lift float64) []r2.Point {
	b := a.Add(r2.Point{X: math.Cos(startAngle), Y: math.Sin(startAngle)}.Mul(lift))
	c := d.Sub(r2.Point{X: math.Cos(endAngle), Y: math.Sin(endAngle)}.Mul(lift))

	out := make([]r2.Point, swingSamples)
	for i := range out {
		t := float64(i) / swingSamples
		u := 1 - t
		out[i] = a.Mul(u * u * u).
			Add(b.Mul(3 * t * u * u)).
			Add(c.Mul(3 * t * t * u)).
			Add(d.Mul(t * t * t))
	}
	return out
}
