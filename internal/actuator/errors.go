package actuator

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGroup    = errors.New("invalid actuator group")
	ErrInvalidActuator = errors.New("invalid actuator")
	ErrSizeMismatch    = errors.New("position vector size does not match group")
)

// HardwareError is a single failed link transaction. The actuator's cached
// state is left unchanged.
type HardwareError struct {
	Op       string
	Actuator string
	Err      error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Actuator, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }
