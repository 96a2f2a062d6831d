package actuator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"biped/internal/hardware/comm"
	"biped/internal/logging"
	"biped/pkg/types"
)

type joint struct {
	Actuator
	current   float64
	next      float64
	hasTarget bool
	// stale is set when the last read failed and bypasses the dead-band in
	// WriteAll.
	stale bool
}

// Registry owns every actuator and the fixed group table. current is only
// written by the read operations and next only by the set operations.
type Registry struct {
	link            comm.Link
	mu              sync.RWMutex
	joints          []joint
	byName          map[string]int
	groups          [types.NumGroups][]int
	readConcurrency int
	logger          *logging.Logger
}

type Option func(*Registry)

// WithReadConcurrency bounds the number of reads ReadAll keeps in flight.
func WithReadConcurrency(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.readConcurrency = n
		}
	}
}

// NewRegistry builds the actuator table and resolves the group name lists
// against it. Names that match no actuator are dropped.
func NewRegistry(link comm.Link, actuators []types.ActuatorConfig, configurations map[string][]string, opts ...Option) *Registry {
	r := &Registry{
		link:            link,
		byName:          make(map[string]int, len(actuators)),
		readConcurrency: 1,
		logger:          logging.GetLogger("actuator"),
	}
	for _, opt := range opts {
		opt(r)
	}

	sorted := make([]types.ActuatorConfig, len(actuators))
	copy(sorted, actuators)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, cfg := range sorted {
		if _, dup := r.byName[cfg.Name]; dup {
			r.logger.Warn("Duplicate actuator ignored", "actuator", cfg.Name)
			continue
		}
		r.byName[cfg.Name] = len(r.joints)
		r.joints = append(r.joints, joint{Actuator: New(cfg)})
	}

	for key, names := range configurations {
		group, ok := types.ParseGroup(key)
		if !ok {
			r.logger.Warn("Unknown configuration ignored", "group", key)
			continue
		}
		members := make([]int, 0, len(names))
		for _, name := range names {
			idx, ok := r.byName[name]
			if !ok {
				r.logger.Warn("Unknown actuator dropped from group", "group", key, "actuator", name)
				continue
			}
			members = append(members, idx)
		}
		r.groups[group] = members
	}

	r.logger.Info("Actuator registry ready", "actuators", len(r.joints))
	return r
}

func (r *Registry) members(group types.Group) ([]int, error) {
	if !group.Valid() {
		r.logger.Warn("Invalid group", "group", group.String())
		return nil, fmt.Errorf("%w: %s", ErrInvalidGroup, group)
	}
	return r.groups[group], nil
}

func (r *Registry) index(name string) (int, error) {
	idx, ok := r.byName[name]
	if !ok {
		r.logger.Warn("Invalid actuator", "actuator", name)
		return 0, fmt.Errorf("%w: %s", ErrInvalidActuator, name)
	}
	return idx, nil
}

// Actuator returns the calibration of the named joint.
func (r *Registry) Actuator(name string) (Actuator, bool) {
	idx, ok := r.byName[name]
	if !ok {
		return Actuator{}, false
	}
	return r.joints[idx].Actuator, true
}

// Names lists every actuator in table order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.joints))
	for i, j := range r.joints {
		names[i] = j.Name
	}
	return names
}

// Group lists the actuator names of group in configured order.
func (r *Registry) Group(group types.Group) ([]string, error) {
	members, err := r.members(group)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(members))
	for i, idx := range members {
		names[i] = r.joints[idx].Name
	}
	return names, nil
}

// GroupSize is the number of actuators in group, or -1 for an invalid group.
func (r *Registry) GroupSize(group types.Group) int {
	if !group.Valid() {
		return -1
	}
	return len(r.groups[group])
}

func (r *Registry) SetPosition(angle float64, name string) error {
	idx, err := r.index(name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joints[idx].next = angle
	r.joints[idx].hasTarget = true
	return nil
}

// SetPositions commands every member of group. Nothing is applied unless
// len(angles) matches the group size.
func (r *Registry) SetPositions(angles []float64, group types.Group) error {
	members, err := r.members(group)
	if err != nil {
		return err
	}
	if len(angles) != len(members) {
		r.logger.Warn("Position vector size mismatch", "group", group.String(), "expected", len(members), "got", len(angles))
		return fmt.Errorf("%w: %s has %d actuators, got %d values", ErrSizeMismatch, group, len(members), len(angles))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, idx := range members {
		r.joints[idx].next = angles[i]
		r.joints[idx].hasTarget = true
	}
	return nil
}

// ReadPosition returns the cached angle of name, or -1 with
// ErrInvalidActuator when the name is unknown.
func (r *Registry) ReadPosition(name string) (float64, error) {
	idx, err := r.index(name)
	if err != nil {
		return -1, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.joints[idx].current, nil
}

// ReadPositions returns the cached angles of group in member order.
func (r *Registry) ReadPositions(group types.Group) ([]float64, error) {
	members, err := r.members(group)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(members))
	for i, idx := range members {
		out[i] = r.joints[idx].current
	}
	return out, nil
}

// NextPositions returns the commanded angles of group in member order.
func (r *Registry) NextPositions(group types.Group) ([]float64, error) {
	members, err := r.members(group)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]float64, len(members))
	for i, idx := range members {
		out[i] = r.joints[idx].next
	}
	return out, nil
}

func (r *Registry) setTorque(ctx context.Context, on bool, indices []int) error {
	var errs error
	for _, idx := range indices {
		a := r.joints[idx].Actuator
		if err := r.link.SetTorque(ctx, a.ID, on); err != nil {
			r.logger.Error("Torque command failed", "actuator", a.Name, "on", on, "error", err)
			errs = multierr.Append(errs, &HardwareError{Op: "torque", Actuator: a.Name, Err: err})
		}
	}
	return errs
}

// SetTorque enables or disables holding torque on every member of group.
func (r *Registry) SetTorque(ctx context.Context, on bool, group types.Group) error {
	members, err := r.members(group)
	if err != nil {
		return err
	}
	return r.setTorque(ctx, on, members)
}

func (r *Registry) SetTorqueByName(ctx context.Context, on bool, name string) error {
	idx, err := r.index(name)
	if err != nil {
		return err
	}
	return r.setTorque(ctx, on, []int{idx})
}

// SetTorqueTarget accepts either a group name such as "LEFT_LEG" or an
// actuator name.
func (r *Registry) SetTorqueTarget(ctx context.Context, on bool, target string) error {
	if group, ok := types.ParseGroup(target); ok {
		return r.SetTorque(ctx, on, group)
	}
	return r.SetTorqueByName(ctx, on, target)
}

func (r *Registry) read(ctx context.Context, indices []int) error {
	var (
		g    errgroup.Group
		errM sync.Mutex
		errs error
	)
	g.SetLimit(r.readConcurrency)

	for _, idx := range indices {
		idx := idx
		a := r.joints[idx].Actuator
		g.Go(func() error {
			raw, err := r.link.ReadRaw(ctx, a.ID)

			r.mu.Lock()
			if err != nil {
				r.joints[idx].stale = true
			} else {
				r.joints[idx].current = a.RawToAngle(raw)
				r.joints[idx].stale = false
			}
			r.mu.Unlock()

			if err != nil {
				r.logger.Debug("Read failed", "actuator", a.Name, "error", err)
				errM.Lock()
				errs = multierr.Append(errs, &HardwareError{Op: "read", Actuator: a.Name, Err: err})
				errM.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// ReadAll refreshes the current position of every actuator. A failed read
// leaves that actuator's position unchanged and marks it stale; the returned
// error aggregates every failure.
func (r *Registry) ReadAll(ctx context.Context) error {
	indices := make([]int, len(r.joints))
	for i := range indices {
		indices[i] = i
	}
	return r.read(ctx, indices)
}

// ReadGroup refreshes only the members of group.
func (r *Registry) ReadGroup(ctx context.Context, group types.Group) error {
	members, err := r.members(group)
	if err != nil {
		return err
	}
	return r.read(ctx, members)
}

type pendingWrite struct {
	idx int
	raw int
}

// WriteAll sends the target of every actuator whose target differs from its
// last read position. Actuators without a target are never written; stale
// actuators are always written.
func (r *Registry) WriteAll(ctx context.Context) error {
	r.mu.RLock()
	pending := make([]pendingWrite, 0, len(r.joints))
	for i, j := range r.joints {
		if !j.hasTarget {
			continue
		}
		if j.next == j.current && !j.stale {
			continue
		}
		pending = append(pending, pendingWrite{idx: i, raw: j.AngleToRaw(j.next)})
	}
	r.mu.RUnlock()

	var errs error
	for _, p := range pending {
		a := r.joints[p.idx].Actuator
		if err := r.link.WriteRaw(ctx, a.ID, p.raw); err != nil {
			r.logger.Debug("Write failed", "actuator", a.Name, "raw", p.raw, "error", err)
			errs = multierr.Append(errs, &HardwareError{Op: "write", Actuator: a.Name, Err: err})
		}
	}
	return errs
}

// InitPosition ramps group linearly from its freshly read position to
// targets over total, one SetPositions and WriteAll every step. The last
// step lands exactly on targets. Cancelling ctx stops the ramp where it is.
func (r *Registry) InitPosition(ctx context.Context, targets []float64, group types.Group, total, step time.Duration) error {
	members, err := r.members(group)
	if err != nil {
		return err
	}
	if len(targets) != len(members) {
		r.logger.Warn("Init position size mismatch", "group", group.String(), "expected", len(members), "got", len(targets))
		return fmt.Errorf("%w: %s has %d actuators, got %d values", ErrSizeMismatch, group, len(members), len(targets))
	}
	if step <= 0 {
		return fmt.Errorf("init position step must be positive")
	}

	if err := r.ReadGroup(ctx, group); err != nil {
		r.logger.Warn("Init position starting from stale positions", "group", group.String(), "error", err)
	}
	start, _ := r.ReadPositions(group)

	steps := int(math.Ceil(float64(total) / float64(step)))
	if steps < 1 {
		steps = 1
	}
	r.logger.Info("Init position ramp", "group", group.String(), "steps", steps, "step", step)

	positions := make([]float64, len(members))
	timer := time.NewTimer(step)
	defer timer.Stop()

	for i := 1; i <= steps; i++ {
		frac := float64(i) / float64(steps)
		for k := range positions {
			positions[k] = start[k] + (targets[k]-start[k])*frac
		}
		if err := r.SetPositions(positions, group); err != nil {
			return err
		}
		if err := r.WriteAll(ctx); err != nil {
			r.logger.Warn("Init position write failed", "step", i, "error", err)
		}

		timer.Reset(step)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// Snapshot copies the cached state of every actuator.
func (r *Registry) Snapshot() Pose {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pose := Pose{Time: time.Now(), Joints: make([]JointState, len(r.joints))}
	for i, j := range r.joints {
		pose.Joints[i] = JointState{
			Name:      j.Name,
			ID:        j.ID,
			Current:   j.current,
			Next:      j.next,
			HasTarget: j.hasTarget,
			Stale:     j.stale,
		}
	}
	return pose
}
