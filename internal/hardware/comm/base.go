// Package comm defines the hardware link used to reach the motor-driver
// board, together with the connection bookkeeping and retry policy shared by
// every transport.
package comm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"biped/internal/logging"
)

// BaseLink tracks connection status and the last error, and runs operations
// under the configured retry policy. Transports embed it.
type BaseLink struct {
	config    ConnectionConfig
	status    ConnectionStatus
	lastError error
	mutex     sync.RWMutex
	logger    *logging.Logger
}

func NewBaseLink(name string, config ConnectionConfig) *BaseLink {
	return &BaseLink{
		config: config,
		status: StatusDisconnected,
		logger: logging.GetLogger(name),
	}
}

func (bl *BaseLink) Status() ConnectionStatus {
	bl.mutex.RLock()
	defer bl.mutex.RUnlock()
	return bl.status
}

func (bl *BaseLink) SetStatus(status ConnectionStatus) {
	bl.mutex.Lock()
	defer bl.mutex.Unlock()
	bl.status = status
}

func (bl *BaseLink) IsConnected() bool {
	return bl.Status() == StatusConnected
}

func (bl *BaseLink) LastError() error {
	bl.mutex.RLock()
	defer bl.mutex.RUnlock()
	return bl.lastError
}

// Fail records err as the last error and returns it.
func (bl *BaseLink) Fail(err error) error {
	bl.mutex.Lock()
	bl.lastError = err
	bl.mutex.Unlock()
	return err
}

// Logger returns the transport's module logger.
func (bl *BaseLink) Logger() *logging.Logger {
	return bl.logger
}

// Config returns the retry policy.
func (bl *BaseLink) Config() ConnectionConfig {
	return bl.config
}

// RetryWithTimeout runs operation up to RetryCount+1 times, waiting
// RetryInterval between attempts. Each attempt gets its own Timeout when one
// is configured.
func (bl *BaseLink) RetryWithTimeout(ctx context.Context, operation func(ctx context.Context) error) error {
	var lastErr error

	for i := 0; i <= bl.config.RetryCount; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := ctx, context.CancelFunc(func() {})
		if bl.config.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, bl.config.Timeout)
		}
		err := operation(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if i == bl.config.RetryCount {
			break
		}

		bl.logger.Debug("Retry after error", "attempt", i+1, "max_attempts", bl.config.RetryCount+1, "error", err)

		select {
		case <-time.After(bl.config.RetryInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if bl.config.RetryCount == 0 {
		return bl.Fail(lastErr)
	}
	return bl.Fail(fmt.Errorf("operation failed after %d retries: %w", bl.config.RetryCount, lastErr))
}
