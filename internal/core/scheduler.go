// Package core runs the robot's units of work on dedicated goroutines bound
// to task slots, and provides the resume/attach rendezvous the control cycle
// uses to bracket a worker's computation between its read and write phases.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"biped/internal/logging"
	"biped/pkg/types"
)

var (
	// ErrFinished is returned by a WorkFunc to retire its worker after the
	// current unit has been signalled done.
	ErrFinished = errors.New("worker finished")

	ErrSlotBusy      = errors.New("task slot already bound")
	ErrStopped       = errors.New("worker stopped")
	ErrUnknownWorker = errors.New("unknown worker")
)

// WorkFunc is one unit of work. It runs each time the worker is resumed.
type WorkFunc func(ctx context.Context) error

// Handle identifies a worker for its whole lifetime.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// Ref names a worker either by Handle or by the types.Task slot it is bound to.
type Ref interface {
	String() string
}

type WorkerState int

const (
	StateCreated WorkerState = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s WorkerState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type worker struct {
	handle   Handle
	task     types.Task
	priority types.Priority
	fn       WorkFunc

	// resume carries at most one pending wake-up, done latches at most one
	// completion token until attach consumes it.
	resume   chan struct{}
	done     chan struct{}
	quit     chan struct{}
	stopped  chan struct{}
	released chan struct{}

	ctx      context.Context
	cancel   context.CancelFunc
	quitOnce sync.Once

	mu      sync.Mutex
	state   WorkerState
	pending bool
	units   int
	lastErr error
}

func (w *worker) setState(state WorkerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

func (w *worker) requestStop() {
	w.quitOnce.Do(func() {
		close(w.quit)
		w.cancel()
	})
}

type CreateOption func(*worker)

// StartPaused creates the worker without running its first unit; it waits
// for the first Resume.
func StartPaused() CreateOption {
	return func(w *worker) { w.pending = false }
}

// Scheduler owns the workers and the task slot bindings. A slot holds at
// most one live worker.
type Scheduler struct {
	mu      sync.Mutex
	workers map[Handle]*worker
	slots   map[types.Task]Handle

	genMu sync.Mutex
	gen   chan struct{}

	wg     sync.WaitGroup
	logger *logging.Logger
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		workers: make(map[Handle]*worker),
		slots:   make(map[types.Task]Handle),
		gen:     make(chan struct{}),
		logger:  logging.GetLogger("scheduler"),
	}
}

// Create spawns a worker at the given priority hint. Unless StartPaused is
// given, its first unit runs immediately. Binding a slot that still has a
// live worker fails with ErrSlotBusy; stop the old worker first.
func (s *Scheduler) Create(priority types.Priority, fn WorkFunc, task types.Task, opts ...CreateOption) (Handle, error) {
	ctx, cancel := context.WithCancel(context.Background())
	w := &worker{
		handle:   Handle(uuid.New()),
		task:     task,
		priority: priority,
		fn:       fn,
		resume:   make(chan struct{}, 1),
		done:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		released: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateCreated,
		pending:  true,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.pending {
		w.resume <- struct{}{}
	}

	s.mu.Lock()
	if task != types.TaskNone {
		if bound, ok := s.slots[task]; ok {
			s.mu.Unlock()
			cancel()
			return Handle{}, fmt.Errorf("%w: %s is bound to %s", ErrSlotBusy, task, bound)
		}
		s.slots[task] = w.handle
	}
	s.workers[w.handle] = w
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(w)

	s.logger.Info("Worker created", "handle", w.handle.String(), "task", task.String(), "priority", int(priority))
	return w.handle, nil
}

func (s *Scheduler) run(w *worker) {
	defer s.wg.Done()
	defer s.retire(w)

	if err := PinThread(w.priority); err != nil {
		s.logger.Debug("Priority hint not applied", "task", w.task.String(), "priority", int(w.priority), "error", err)
	}

	for {
		select {
		case <-w.quit:
			return
		case <-w.resume:
		}
		select {
		case <-w.quit:
			return
		default:
		}

		w.mu.Lock()
		w.pending = false
		w.state = StateRunning
		w.mu.Unlock()

		err := w.fn(w.ctx)

		finished := errors.Is(err, ErrFinished)
		w.mu.Lock()
		w.state = StatePaused
		if finished {
			w.state = StateStopped
		} else if err != nil {
			w.lastErr = err
		}
		w.units++
		w.mu.Unlock()

		select {
		case w.done <- struct{}{}:
		default:
		}

		if finished {
			return
		}
		if err != nil {
			s.logger.Warn("Work unit failed", "task", w.task.String(), "error", err)
		}
	}
}

// retire frees the worker's slot. The worker stays reachable by handle while
// a completion token is still waiting for Attach.
func (s *Scheduler) retire(w *worker) {
	w.requestStop()
	w.setState(StateStopped)
	close(w.stopped)

	s.mu.Lock()
	if s.slots[w.task] == w.handle {
		delete(s.slots, w.task)
	}
	if len(w.done) == 0 {
		delete(s.workers, w.handle)
	}
	close(w.released)
	s.mu.Unlock()

	s.logger.Info("Worker stopped", "handle", w.handle.String(), "task", w.task.String())
}

func (s *Scheduler) reapIfStopped(w *worker) {
	select {
	case <-w.stopped:
		s.mu.Lock()
		delete(s.workers, w.handle)
		s.mu.Unlock()
	default:
	}
}

func (s *Scheduler) lookup(ref Ref) (*worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		h  Handle
		ok bool
	)
	switch r := ref.(type) {
	case Handle:
		h, ok = r, true
	case types.Task:
		h, ok = s.slots[r]
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, ref)
	}
	w, ok := s.workers[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, ref)
	}
	return w, nil
}

// Lookup returns the handle bound to task.
func (s *Scheduler) Lookup(task types.Task) (Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.slots[task]
	return h, ok
}

// Released returns a channel closed once task has no worker bound. The
// channel is already closed when the slot is free.
func (s *Scheduler) Released(task types.Task) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.slots[task]; ok {
		if w, ok := s.workers[h]; ok {
			return w.released
		}
	}
	free := make(chan struct{})
	close(free)
	return free
}

// Resume lets a paused worker run one unit. It reports whether a wake-up was
// delivered; a worker that is running, already woken or gone is left alone.
func (s *Scheduler) Resume(ref Ref) bool {
	w, err := s.lookup(ref)
	if err != nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending || (w.state != StatePaused && w.state != StateCreated) {
		return false
	}
	select {
	case w.resume <- struct{}{}:
		w.pending = true
		return true
	default:
		return false
	}
}

// Attach blocks until the worker signals completion of a unit, consuming
// that signal. A signal raised since the previous Attach returns at once.
// It fails with ErrStopped if the worker ends without signalling.
func (s *Scheduler) Attach(ctx context.Context, ref Ref) error {
	w, err := s.lookup(ref)
	if err != nil {
		return err
	}

	select {
	case <-w.done:
		s.reapIfStopped(w)
		return nil
	default:
	}

	select {
	case <-w.done:
		s.reapIfStopped(w)
		return nil
	case <-w.stopped:
		select {
		case <-w.done:
			s.reapIfStopped(w)
			return nil
		default:
		}
		s.reapIfStopped(w)
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the worker. A paused worker exits at once; a running one gets its
// context cancelled and exits after the current unit.
func (s *Scheduler) Stop(ref Ref) error {
	w, err := s.lookup(ref)
	if err != nil {
		return err
	}
	w.requestStop()
	return nil
}

// StopAll stops every worker and waits for them to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		w.requestStop()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.workers = make(map[Handle]*worker)
	s.slots = make(map[types.Task]Handle)
	s.mu.Unlock()
}

// Wait blocks until the next Notify or until ctx ends.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.genMu.Lock()
	ch := s.gen
	s.genMu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify releases every goroutine blocked in Wait.
func (s *Scheduler) Notify() {
	s.genMu.Lock()
	close(s.gen)
	s.gen = make(chan struct{})
	s.genMu.Unlock()
}

type WorkerStatus struct {
	Handle   string         `json:"handle"`
	Task     string         `json:"task"`
	Priority types.Priority `json:"priority"`
	State    string         `json:"state"`
	Units    int            `json:"units"`
	LastErr  string         `json:"last_error,omitempty"`
}

// State returns the current state of the referenced worker.
func (s *Scheduler) State(ref Ref) (WorkerState, error) {
	w, err := s.lookup(ref)
	if err != nil {
		return StateStopped, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state, nil
}

// Status lists the known workers ordered by descending priority.
func (s *Scheduler) Status() []WorkerStatus {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		w.mu.Lock()
		st := WorkerStatus{
			Handle:   w.handle.String(),
			Task:     w.task.String(),
			Priority: w.priority,
			State:    w.state.String(),
			Units:    w.units,
		}
		if w.lastErr != nil {
			st.LastErr = w.lastErr.Error()
		}
		w.mu.Unlock()
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Handle < out[j].Handle
	})
	return out
}
