// Package locomotion plans footsteps toward a target and plays the resulting
// ZMP reference back as leg joint targets, one sample per legs-control unit.
package locomotion

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
)

var ErrStepLength = errors.New("step length must be positive")

// Foot identifies a leg.
type Foot int

const (
	FootNone Foot = iota
	FootLeft
	FootRight
)

func (f Foot) String() string {
	switch f {
	case FootLeft:
		return "left"
	case FootRight:
		return "right"
	default:
		return "none"
	}
}

// Placement is one footstep in walking order.
type Placement struct {
	Foot Foot
	At   r2.Point
}

// Plan is a footstep sequence from Start to Target. The feet stand
// StanceWidth apart, centred on the walking line.
type Plan struct {
	Start, Target r2.Point
	StanceWidth   float64
	Steps         []Placement
}

// heading returns the unit walking direction and its left-hand normal.
func (p Plan) heading() (forward, left r2.Point) {
	dir := p.Target.Sub(p.Start)
	if dir.Norm() == 0 {
		return r2.Point{X: 1}, r2.Point{Y: 1}
	}
	forward = dir.Normalize()
	return forward, forward.Ortho()
}

// Home is where foot stands before the first step.
func (p Plan) Home(foot Foot) r2.Point {
	_, left := p.heading()
	half := left.Mul(p.StanceWidth / 2)
	if foot == FootRight {
		return p.Start.Sub(half)
	}
	return p.Start.Add(half)
}

// Left returns the left-foot placements in order.
func (p Plan) Left() []r2.Point { return p.placements(FootLeft) }

// Right returns the right-foot placements in order.
func (p Plan) Right() []r2.Point { return p.placements(FootRight) }

func (p Plan) placements(foot Foot) []r2.Point {
	var out []r2.Point
	for _, s := range p.Steps {
		if s.Foot == foot {
			out = append(out, s.At)
		}
	}
	return out
}

// Frame expresses a world point in the walking frame: distance along the
// walking line and signed offset to its left.
func (p Plan) Frame(pt r2.Point) (forward, lateral float64) {
	fwd, left := p.heading()
	rel := pt.Sub(p.Start)
	return rel.Dot(fwd), rel.Dot(left)
}

// PlanFootsteps walks from start to target with strides of at most
// stepLength, leading with the left foot. Feet alternate, and the trailing
// foot closes next to the leading one on the target, so left and right counts
// never differ by more than one.
func PlanFootsteps(start, target r2.Point, stepLength, stanceWidth float64) (Plan, error) {
	plan := Plan{Start: start, Target: target, StanceWidth: stanceWidth}
	if stepLength <= 0 {
		return plan, ErrStepLength
	}
	dist := target.Sub(start).Norm()
	if dist == 0 {
		return plan, nil
	}

	fwd, left := plan.heading()
	half := left.Mul(stanceWidth / 2)
	place := func(foot Foot, s float64) {
		at := start.Add(fwd.Mul(s))
		if foot == FootLeft {
			at = at.Add(half)
		} else {
			at = at.Sub(half)
		}
		plan.Steps = append(plan.Steps, Placement{Foot: foot, At: at})
	}

	n := int(math.Ceil(dist/stepLength - 1e-9))
	foot := FootLeft
	for k := 1; k <= n; k++ {
		place(foot, math.Min(float64(k)*stepLength, dist))
		foot = other(foot)
	}
	place(foot, dist)
	return plan, nil
}

func other(f Foot) Foot {
	if f == FootLeft {
		return FootRight
	}
	return FootLeft
}
