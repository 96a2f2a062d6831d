// Package hardware builds the link to the motor-driver board from
// configuration.
package hardware

import (
	"context"
	"errors"
	"fmt"

	"biped/internal/hardware/comm"
	"biped/internal/hardware/protocols/modbus"
	"biped/internal/hardware/protocols/serial"
	"biped/internal/hardware/protocols/sim"
	"biped/internal/logging"
	"biped/pkg/types"
)

// ErrInitFailure marks a link that could not be established. The returned
// connection is then comm.Offline and the caller runs in degraded mode.
var ErrInitFailure = errors.New("hardware initialization failed")

var errLinkDisabled = errors.New("hardware link disabled by configuration")

func connectionConfig(cfg types.LinkConfig) comm.ConnectionConfig {
	return comm.ConnectionConfig{
		Timeout:       cfg.Timeout,
		RetryCount:    cfg.RetryCount,
		RetryInterval: cfg.RetryInterval,
	}
}

// CreateSerialConfig maps the link section onto the serial transport.
func CreateSerialConfig(cfg types.LinkConfig) serial.SerialConfig {
	return serial.SerialConfig{
		ConnectionConfig: connectionConfig(cfg),
		PortName:         cfg.Port,
		BaudRate:         cfg.BaudRate,
		DataBits:         cfg.DataBits,
		StopBits:         cfg.StopBits,
		Parity:           cfg.Parity,
	}
}

// CreateModbusConfig maps the link section onto the Modbus transport. TCP
// uses Address, RTU uses Port.
func CreateModbusConfig(cfg types.LinkConfig) modbus.ModbusConfig {
	address := cfg.Port
	if cfg.ModbusType == "tcp" {
		address = cfg.Address
	}
	return modbus.ModbusConfig{
		ConnectionConfig: connectionConfig(cfg),
		Type:             cfg.ModbusType,
		Address:          address,
		BaudRate:         cfg.BaudRate,
		DataBits:         cfg.DataBits,
		StopBits:         cfg.StopBits,
		Parity:           cfg.Parity,
		SlaveID:          cfg.SlaveID,
	}
}

// NewSimBoard returns a simulated board with one servo per actuator, resting
// at its zero-angle offset clamped into range.
func NewSimBoard(actuators []types.ActuatorConfig) *sim.Board {
	board := sim.NewBoard()
	for _, a := range actuators {
		raw := a.Offset
		if raw < a.Min {
			raw = a.Min
		}
		if raw > a.Max {
			raw = a.Max
		}
		board.AddServo(a.ID, raw)
	}
	return board
}

// NewLink builds and connects the configured link. It never returns a nil
// connection: on failure the error wraps ErrInitFailure and the connection
// is comm.Offline.
func NewLink(ctx context.Context, cfg types.LinkConfig, actuators []types.ActuatorConfig) (comm.Connection, error) {
	logger := logging.GetLogger("hardware")

	var conn comm.Connection
	switch cfg.Protocol {
	case "serial":
		conn = serial.NewSerialLink(CreateSerialConfig(cfg))
	case "modbus":
		conn = modbus.NewModbusLink(CreateModbusConfig(cfg))
	case "sim":
		conn = NewSimBoard(actuators)
	case "none", "":
		logger.Warn("Running without hardware link")
		return comm.Offline{Cause: errLinkDisabled}, nil
	default:
		err := fmt.Errorf("%w: unknown protocol %q", ErrInitFailure, cfg.Protocol)
		logger.Error("Hardware link unavailable, running degraded", "error", err)
		return comm.Offline{Cause: err}, err
	}

	if err := conn.Connect(ctx); err != nil {
		err = fmt.Errorf("%w: %s link: %w", ErrInitFailure, cfg.Protocol, err)
		logger.Error("Hardware link unavailable, running degraded", "protocol", cfg.Protocol, "error", err)
		return comm.Offline{Cause: err}, err
	}

	logger.Info("Hardware link ready", "protocol", cfg.Protocol)
	return conn, nil
}
