// Package control runs the fixed-rate read, compute, write cycle that ties
// the actuator registry to the legs-control worker.
package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"biped/internal/actuator"
	"biped/internal/core"
	"biped/internal/logging"
	"biped/pkg/types"
)

// Actuators is the part of the registry the cycle drives.
type Actuators interface {
	ReadAll(ctx context.Context) error
	WriteAll(ctx context.Context) error
	Snapshot() actuator.Pose
}

// Workers is the part of the scheduler the cycle drives.
type Workers interface {
	Lookup(task types.Task) (core.Handle, bool)
	Resume(ref core.Ref) bool
	Attach(ctx context.Context, ref core.Ref) error
	Wait(ctx context.Context) error
	Notify()
}

// Observer receives the pose published at the end of every tick. Observers
// run on the cycle goroutine and must not block.
type Observer interface {
	Observe(pose actuator.Pose)
}

type ObserverFunc func(pose actuator.Pose)

func (f ObserverFunc) Observe(pose actuator.Pose) { f(pose) }

// Status is a snapshot of the cycle counters.
type Status struct {
	Paused   bool          `json:"paused"`
	Ticks    uint64        `json:"ticks"`
	Computed uint64        `json:"computed"`
	Overruns uint64        `json:"overruns"`
	LastTick time.Duration `json:"last_tick_ns"`
	LastErr  string        `json:"last_error,omitempty"`
}

// Cycle is the control cycle orchestrator. Each tick reads every actuator,
// lets the worker bound to the compute task run one unit, waits for it and
// writes the resulting targets.
type Cycle struct {
	actuators Actuators
	workers   Workers
	task      types.Task
	iteration time.Duration
	logger    *logging.Logger

	mu        sync.Mutex
	observers []Observer
	paused    bool
	status    Status
}

type Option func(*Cycle)

// WithTask changes the slot whose worker computes each tick.
func WithTask(task types.Task) Option {
	return func(c *Cycle) { c.task = task }
}

// NewCycle ticks every iteration and computes through the legs-control slot.
func NewCycle(actuators Actuators, workers Workers, iteration time.Duration, opts ...Option) *Cycle {
	c := &Cycle{
		actuators: actuators,
		workers:   workers,
		task:      types.TaskLegsControl,
		iteration: iteration,
		logger:    logging.GetLogger("control"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cycle) AddObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Tick runs one read, compute, write pass. Read and write failures do not
// stop the pass; they are aggregated into the returned error. Without a
// bound worker the compute phase is skipped.
func (c *Cycle) Tick(ctx context.Context) error {
	start := time.Now()
	var errs error

	if err := c.actuators.ReadAll(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("read: %w", err))
	}

	computed, err := c.compute(ctx)
	if err != nil {
		return multierr.Append(errs, fmt.Errorf("compute: %w", err))
	}

	if err := c.actuators.WriteAll(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("write: %w", err))
	}

	pose := c.actuators.Snapshot()
	elapsed := time.Since(start)

	c.mu.Lock()
	c.status.Ticks++
	if computed {
		c.status.Computed++
	}
	c.status.LastTick = elapsed
	if c.iteration > 0 && elapsed > c.iteration {
		c.status.Overruns++
	}
	c.status.LastErr = ""
	if errs != nil {
		c.status.LastErr = errs.Error()
	}
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		o.Observe(pose)
	}
	return errs
}

// compute resumes the bound worker and waits for its unit. A worker that
// stops instead of completing does not hold up the write phase.
func (c *Cycle) compute(ctx context.Context) (bool, error) {
	h, ok := c.workers.Lookup(c.task)
	if !ok {
		return false, nil
	}
	// A false Resume means the worker is already running or queued, or has
	// just stopped; in every case Attach either collects a unit or fails.
	c.workers.Resume(h)
	err := c.workers.Attach(ctx, h)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, core.ErrStopped), errors.Is(err, core.ErrUnknownWorker):
		c.logger.Debug("Compute worker gone", "task", c.task.String(), "error", err)
		return false, nil
	default:
		return false, err
	}
}

// Run ticks every iteration until ctx ends. While paused it blocks in the
// scheduler's Wait until Start notifies it.
func (c *Cycle) Run(ctx context.Context) error {
	if c.iteration <= 0 {
		return fmt.Errorf("control iteration must be positive, got %v", c.iteration)
	}
	c.logger.Info("Control cycle started", "iteration", c.iteration, "task", c.task.String())
	defer c.logger.Info("Control cycle stopped")

	ticker := time.NewTicker(c.iteration)
	defer ticker.Stop()

	for {
		if c.Paused() {
			// The timeout re-checks the flag in case Start notified before
			// this Wait subscribed.
			waitCtx, cancel := context.WithTimeout(ctx, c.iteration)
			_ = c.workers.Wait(waitCtx)
			cancel()
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("Control tick degraded", "error", err)
		}
	}
}

// Pause stops ticking after the current tick.
func (c *Cycle) Pause() {
	c.mu.Lock()
	c.paused = true
	c.mu.Unlock()
	c.logger.Info("Control cycle paused")
}

// Start resumes a paused cycle.
func (c *Cycle) Start() {
	c.mu.Lock()
	c.paused = false
	c.mu.Unlock()
	c.workers.Notify()
	c.logger.Info("Control cycle resumed")
}

func (c *Cycle) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

func (c *Cycle) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.status
	st.Paused = c.paused
	return st
}
