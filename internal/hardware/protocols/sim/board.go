// Package sim provides an in-memory motor-driver board. Servos reach their
// commanded raw position instantly; reads and writes can be made to fail per
// servo.
package sim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"biped/internal/hardware/comm"
	"biped/internal/logging"
)

type servo struct {
	raw      int
	torque   bool
	reads    int
	writes   int
	readErr  error
	writeErr error
}

// Board is a comm.Connection backed by a servo table.
type Board struct {
	mu     sync.Mutex
	servos map[int]*servo
	status comm.ConnectionStatus
	logger *logging.Logger
}

func NewBoard() *Board {
	return &Board{
		servos: make(map[int]*servo),
		status: comm.StatusDisconnected,
		logger: logging.GetLogger("sim_board"),
	}
}

// AddServo places a servo with the given id at raw.
func (b *Board) AddServo(id, raw int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.servos[id] = &servo{raw: raw}
}

func (b *Board) get(id int) (*servo, error) {
	s, ok := b.servos[id]
	if !ok {
		return nil, fmt.Errorf("no servo with id %d", id)
	}
	return s, nil
}

func (b *Board) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = comm.StatusConnected
	b.logger.Info("Simulated board connected", "servos", len(b.servos))
	return nil
}

func (b *Board) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = comm.StatusDisconnected
	return nil
}

func (b *Board) Status() comm.ConnectionStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *Board) LastError() error { return nil }

func (b *Board) ReadRaw(ctx context.Context, id int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != comm.StatusConnected {
		return 0, comm.ErrLinkDown
	}
	s, err := b.get(id)
	if err != nil {
		return 0, err
	}
	s.reads++
	if s.readErr != nil {
		return 0, s.readErr
	}
	return s.raw, nil
}

func (b *Board) WriteRaw(ctx context.Context, id int, raw int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != comm.StatusConnected {
		return comm.ErrLinkDown
	}
	s, err := b.get(id)
	if err != nil {
		return err
	}
	s.writes++
	if s.writeErr != nil {
		return s.writeErr
	}
	s.raw = raw
	return nil
}

func (b *Board) SetTorque(ctx context.Context, id int, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.status != comm.StatusConnected {
		return comm.ErrLinkDown
	}
	s, err := b.get(id)
	if err != nil {
		return err
	}
	s.torque = on
	return nil
}

// FailReads makes every read of id return err until cleared with nil.
func (b *Board) FailReads(id int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		s.readErr = err
	}
}

// FailWrites makes every write to id return err until cleared with nil.
func (b *Board) FailWrites(id int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		s.writeErr = err
	}
}

// Raw returns the current register value of id.
func (b *Board) Raw(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		return s.raw
	}
	return -1
}

func (b *Board) Torque(id int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		return s.torque
	}
	return false
}

// Reads and Writes count transactions attempted on id, failed ones included.
func (b *Board) Reads(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		return s.reads
	}
	return 0
}

func (b *Board) Writes(id int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.servos[id]; ok {
		return s.writes
	}
	return 0
}

// ResetCounters zeroes every read and write counter.
func (b *Board) ResetCounters() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.servos {
		s.reads, s.writes = 0, 0
	}
}

// IDs lists the servo ids in ascending order.
func (b *Board) IDs() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.servos))
	for id := range b.servos {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
