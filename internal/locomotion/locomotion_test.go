package locomotion

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biped/internal/core"
	"biped/internal/trajectory"
	"biped/pkg/types"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func pt(x, y float64) r2.Point { return r2.Point{X: x, Y: y} }

var legNames = []string{
	"R_HIP_YAW", "R_HIP_ROLL", "R_HIP_PITCH", "R_KNEE", "R_ANKLE_PITCH", "R_ANKLE_ROLL",
	"L_HIP_YAW", "L_HIP_ROLL", "L_HIP_PITCH", "L_KNEE", "L_ANKLE_PITCH", "L_ANKLE_ROLL",
}

func walkConfig() types.WalkConfig {
	return types.WalkConfig{
		StepLength:     0.04,
		StanceWidth:    0.074,
		LiftHeight:     0.03,
		PelvisHeight:   0.3,
		StepPeriod:     1,
		SampleInterval: 0.02,
		Increment:      0.01,
	}
}

type recordingSetter struct {
	mu     sync.Mutex
	calls  [][]float64
	groups []types.Group
}

func (s *recordingSetter) SetPositions(angles []float64, group types.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, angles)
	s.groups = append(s.groups, group)
	return nil
}

func (s *recordingSetter) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func TestPlanFootstepsStraight(t *testing.T) {
	plan, err := PlanFootsteps(pt(0, 0), pt(0.1, 0), 0.04, 0.074)
	require.NoError(t, err)

	wantLeft := []r2.Point{pt(0.04, 0.037), pt(0.1, 0.037)}
	wantRight := []r2.Point{pt(0.08, -0.037), pt(0.1, -0.037)}
	if diff := cmp.Diff(wantLeft, plan.Left(), approx); diff != "" {
		t.Errorf("left placements (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRight, plan.Right(), approx); diff != "" {
		t.Errorf("right placements (-want +got):\n%s", diff)
	}

	feet := make([]Foot, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		feet = append(feet, s.Foot)
	}
	assert.Equal(t, []Foot{FootLeft, FootRight, FootLeft, FootRight}, feet)
}

func TestPlanFootstepsDiagonal(t *testing.T) {
	plan, err := PlanFootsteps(pt(0, 0), pt(0.3, 0.4), 0.1, 0.06)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 6)

	for _, s := range plan.Steps[len(plan.Steps)-2:] {
		fwd, lat := plan.Frame(s.At)
		assert.InDelta(t, 0.5, fwd, 1e-9)
		assert.InDelta(t, 0.03, math.Abs(lat), 1e-9)
	}
	fwd, lat := plan.Frame(plan.Home(FootRight))
	assert.InDelta(t, 0, fwd, 1e-9)
	assert.InDelta(t, -0.03, lat, 1e-9)
}

func TestPlanFootstepsBalanced(t *testing.T) {
	for _, dist := range []float64{0.01, 0.04, 0.05, 0.12, 0.3, 1} {
		plan, err := PlanFootsteps(pt(0, 0), pt(dist, 0), 0.04, 0.074)
		require.NoError(t, err)
		diff := len(plan.Left()) - len(plan.Right())
		assert.True(t, diff >= -1 && diff <= 1, "distance %v: %d left, %d right", dist, len(plan.Left()), len(plan.Right()))
	}
}

func TestPlanFootstepsEdgeCases(t *testing.T) {
	plan, err := PlanFootsteps(pt(1, 1), pt(1, 1), 0.04, 0.074)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps)

	_, err = PlanFootsteps(pt(0, 0), pt(1, 0), 0, 0.074)
	assert.ErrorIs(t, err, ErrStepLength)
}

func TestSwayMapper(t *testing.T) {
	base := make([]float64, len(legNames))
	base[3] = 10
	m := NewSwayMapper(legNames, base, 0.3)

	assert.InDelta(t, 45, m.Roll(0.3), 1e-9)
	assert.Zero(t, m.Roll(0))

	got := m.Map(Frame{Lateral: 0.3})
	require.Len(t, got, len(legNames))
	for i, name := range legNames {
		switch name {
		case "R_HIP_ROLL", "L_HIP_ROLL":
			assert.InDelta(t, 45, got[i], 1e-9, name)
		case "R_ANKLE_ROLL", "L_ANKLE_ROLL":
			assert.InDelta(t, -45, got[i], 1e-9, name)
		case "R_KNEE":
			assert.Equal(t, 10.0, got[i])
		default:
			assert.Zero(t, got[i], name)
		}
	}

	// The base is not modified by mapping.
	assert.Equal(t, 0.0, m.Map(Frame{})[1])

	short := NewSwayMapper(legNames, []float64{1, 2}, 0.3)
	assert.Equal(t, make([]float64, len(legNames)), short.Map(Frame{}))
}

func TestWalkFrames(t *testing.T) {
	setter := &recordingSetter{}
	w, err := NewWalk(pt(0, 0), pt(0.08, 0), walkConfig(), NewSwayMapper(legNames, nil, 0.3), setter, types.GroupAllLegs)
	require.NoError(t, err)

	// Left, right and the closing left step give five waypoints with the
	// start and target, so four phases of 9 transfer and 50 hold samples.
	require.Len(t, w.Plan().Steps, 3)
	frames := w.Frames()
	require.Len(t, frames, 1+4*59)

	assert.Equal(t, FootNone, frames[5].Swing)
	assert.Equal(t, FootRight, frames[10].Swing)
	assert.InDelta(t, 0.037, frames[10].Lateral, 1e-9)

	peak := 0.0
	for _, f := range frames[10:60] {
		assert.Equal(t, FootRight, f.Swing)
		peak = math.Max(peak, f.SwingLift)
	}
	assert.InDelta(t, 0.75*0.03, peak, 1e-9)

	// Holding on the closing step and on the target nothing swings.
	for _, f := range frames[len(frames)-50:] {
		assert.Equal(t, FootNone, f.Swing)
	}
	last := frames[len(frames)-1]
	assert.InDelta(t, 0.08, last.Forward, 1e-9)
	assert.InDelta(t, 0, last.Lateral, 1e-9)
}

func TestWalkReference(t *testing.T) {
	cfg := walkConfig()
	cfg.Increment = 0.25
	w, err := NewWalk(pt(0, 0), pt(0.08, 0), cfg, NewSwayMapper(legNames, nil, 0.3), &recordingSetter{}, types.GroupAllLegs)
	require.NoError(t, err)

	// Four segments of four samples each, then the target.
	ref := w.Reference()
	require.Len(t, ref, 4*4+1)
	assert.Equal(t, pt(0, 0), ref[0])
	assert.True(t, cmp.Equal(w.Plan().Steps[0].At, ref[4], approx))
	assert.Equal(t, pt(0.08, 0), ref[len(ref)-1])

	cfg.Increment = 0
	_, err = NewWalk(pt(0, 0), pt(0.08, 0), cfg, NewSwayMapper(legNames, nil, 0.3), &recordingSetter{}, types.GroupAllLegs)
	assert.ErrorIs(t, err, trajectory.ErrIncrement)
}

func TestWalkStepPlaysEveryFrame(t *testing.T) {
	setter := &recordingSetter{}
	w, err := NewWalk(pt(0, 0), pt(0.08, 0), walkConfig(), NewSwayMapper(legNames, nil, 0.3), setter, types.GroupAllLegs)
	require.NoError(t, err)
	n := len(w.Frames())

	ctx := context.Background()
	for i := 0; i < n-1; i++ {
		require.NoError(t, w.Step(ctx), "frame %d", i)
	}
	select {
	case <-w.Done():
		t.Fatal("done before the last frame")
	default:
	}

	assert.ErrorIs(t, w.Step(ctx), core.ErrFinished)
	assert.Equal(t, n, setter.count())
	assert.Equal(t, n, w.Progress())
	<-w.Done()

	assert.ErrorIs(t, w.Step(ctx), core.ErrFinished)
	assert.Equal(t, n, setter.count(), "no frame after the end")
	assert.Equal(t, types.GroupAllLegs, setter.groups[0])
	assert.InDelta(t, math.Atan(0.037/0.3)*180/math.Pi, setter.calls[10][1], 1e-9)
}

func TestWalkStepHonoursContext(t *testing.T) {
	setter := &recordingSetter{}
	w, err := NewWalk(pt(0, 0), pt(0.08, 0), walkConfig(), NewSwayMapper(legNames, nil, 0.3), setter, types.GroupAllLegs)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Step(ctx), context.Canceled)
	assert.Zero(t, setter.count())
}

func TestWalkRejectsBadTiming(t *testing.T) {
	cfg := walkConfig()
	cfg.SampleInterval = 0.5
	_, err := NewWalk(pt(0, 0), pt(0.08, 0), cfg, NewSwayMapper(legNames, nil, 0.3), &recordingSetter{}, types.GroupAllLegs)
	assert.Error(t, err)
}

func TestWalkOnScheduler(t *testing.T) {
	s := core.NewScheduler()
	defer s.StopAll()

	setter := &recordingSetter{}
	w, err := NewWalk(pt(0, 0), pt(0.04, 0), walkConfig(), NewSwayMapper(legNames, nil, 0.3), setter, types.GroupAllLegs)
	require.NoError(t, err)

	h, err := s.Create(types.PriorityLegs, w.Step, types.TaskLegsControl, core.StartPaused())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range w.Frames() {
		require.True(t, s.Resume(h), "unit %d", i)
		require.NoError(t, s.Attach(ctx, h), "unit %d", i)
		assert.Equal(t, i+1, setter.count())
	}

	<-w.Done()
	require.Eventually(t, func() bool {
		_, bound := s.Lookup(types.TaskLegsControl)
		return !bound
	}, time.Second, time.Millisecond)
}
