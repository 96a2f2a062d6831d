package comm

import "context"

// Offline is the link used in degraded mode, when the board could not be
// reached at start-up. Every operation fails with ErrLinkDown so callers keep
// running on stale state instead of crashing.
type Offline struct {
	Cause error
}

func (o Offline) ReadRaw(context.Context, int) (int, error) { return 0, ErrLinkDown }

func (o Offline) WriteRaw(context.Context, int, int) error { return ErrLinkDown }

func (o Offline) SetTorque(context.Context, int, bool) error { return ErrLinkDown }

func (o Offline) Connect(context.Context) error { return ErrLinkDown }

func (o Offline) Close() error { return nil }

func (o Offline) Status() ConnectionStatus { return StatusError }

func (o Offline) LastError() error { return o.Cause }
