package comm

import (
	"context"
	"errors"
	"time"
)

// ConnectionStatus is the state of a link to the motor-driver board.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrLinkDown is returned by every operation on a link that is not connected.
var ErrLinkDown = errors.New("hardware link is down")

// ConnectionConfig holds the retry policy shared by every link.
type ConnectionConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Link is the register-level primitive the actuator layer drives. Values are
// raw servo units; ids are the servo bus ids.
type Link interface {
	ReadRaw(ctx context.Context, id int) (int, error)
	WriteRaw(ctx context.Context, id int, value int) error
	SetTorque(ctx context.Context, id int, on bool) error
}

// Connection is a Link with a lifecycle.
type Connection interface {
	Link
	Connect(ctx context.Context) error
	Close() error
	Status() ConnectionStatus
	LastError() error
}
