package locomotion

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/golang/geo/r2"

	"biped/internal/core"
	"biped/internal/logging"
	"biped/internal/trajectory"
	"biped/pkg/types"
)

// PositionSetter accepts one target per joint of a group.
type PositionSetter interface {
	SetPositions(angles []float64, group types.Group) error
}

// Walk plays a temporal ZMP trajectory back through a JointMapper. Step is
// the legs-control work function: each unit commands the next sample.
type Walk struct {
	plan      Plan
	reference []r2.Point
	frames    []Frame
	mapper JointMapper
	setter PositionSetter
	group  types.Group
	logger *logging.Logger

	mu   sync.Mutex
	next int

	doneOnce sync.Once
	done     chan struct{}
}

// NewWalk plans footsteps from start to target and builds the playback
// frames. Joint targets go to group, normally ALL_LEGS.
func NewWalk(start, target r2.Point, cfg types.WalkConfig, mapper JointMapper, setter PositionSetter, group types.Group) (*Walk, error) {
	plan, err := PlanFootsteps(start, target, cfg.StepLength, cfg.StanceWidth)
	if err != nil {
		return nil, err
	}
	reference, err := trajectory.SpatialZMP(start, target, plan.Left(), plan.Right(), cfg.Increment)
	if err != nil {
		return nil, fmt.Errorf("zmp reference: %w", err)
	}
	samples, err := trajectory.TemporalZMP(start, target, plan.Left(), plan.Right(), cfg.StepPeriod, cfg.SampleInterval)
	if err != nil {
		return nil, fmt.Errorf("zmp trajectory: %w", err)
	}

	w := &Walk{
		plan:      plan,
		reference: reference,
		frames:    buildFrames(plan, samples, cfg),
		mapper:    mapper,
		setter:    setter,
		group:     group,
		logger:    logging.GetLogger("walk"),
		done:      make(chan struct{}),
	}
	w.logger.Info("Walk planned",
		"steps", len(plan.Steps), "samples", len(w.frames), "duration_s", trajectory.Duration(samples))
	return w, nil
}

// buildFrames tags each sample with the swinging foot. While the ZMP holds
// on placement k, the foot of placement k+1 swings there along a Bezier arc.
func buildFrames(plan Plan, samples []trajectory.Sample, cfg types.WalkConfig) []Frame {
	transfer, hold := trajectory.PhaseLengths(cfg.StepPeriod, cfg.SampleInterval)
	phase := transfer + hold

	last := map[Foot]r2.Point{FootLeft: plan.Home(FootLeft), FootRight: plan.Home(FootRight)}
	arcs := make([][]r2.Point, len(plan.Steps))
	for k := 0; k+1 < len(plan.Steps); k++ {
		if k == 0 {
			last[plan.Steps[0].Foot] = plan.Steps[0].At
		}
		swing := plan.Steps[k+1]
		from, _ := plan.Frame(last[swing.Foot])
		to, _ := plan.Frame(swing.At)
		arcs[k] = trajectory.BezierSwing(r2.Point{X: from}, r2.Point{X: to}, math.Pi/2, -math.Pi/2, cfg.LiftHeight)
		last[swing.Foot] = swing.At
	}

	frames := make([]Frame, len(samples))
	for i, s := range samples {
		fwd, lat := plan.Frame(s.Point)
		frames[i] = Frame{Index: i, T: s.T, Forward: fwd, Lateral: lat}
		if i == 0 || phase == 0 {
			continue
		}
		seg, within := (i-1)/phase, (i-1)%phase
		if within < transfer || seg >= len(arcs) || arcs[seg] == nil {
			continue
		}
		arc := arcs[seg]
		j := (within - transfer) * len(arc) / hold
		frames[i].Swing = plan.Steps[seg+1].Foot
		frames[i].SwingLift = arc[j].Y
	}
	return frames
}

func (w *Walk) Plan() Plan { return w.plan }

// Reference returns the spatial ZMP path through the placements, sampled
// every walk increment along each segment.
func (w *Walk) Reference() []r2.Point { return w.reference }

// Frames returns the playback frames.
func (w *Walk) Frames() []Frame { return w.frames }

// Progress returns how many frames have been commanded.
func (w *Walk) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.next
}

// Done is closed once the last frame has been commanded.
func (w *Walk) Done() <-chan struct{} { return w.done }

// Step commands the next frame. It returns core.ErrFinished with the last
// frame so the worker retires after the cycle has collected it.
func (w *Walk) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.next >= len(w.frames) {
		w.finish()
		return core.ErrFinished
	}

	f := w.frames[w.next]
	if err := w.setter.SetPositions(w.mapper.Map(f), w.group); err != nil {
		return fmt.Errorf("frame %d: %w", f.Index, err)
	}
	w.next++

	if w.next == len(w.frames) {
		w.finish()
		w.logger.Info("Walk finished", "frames", w.next)
		return core.ErrFinished
	}
	return nil
}

func (w *Walk) finish() {
	w.doneOnce.Do(func() { close(w.done) })
}
