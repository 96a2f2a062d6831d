// Package modbus drives a motor-driver board that exposes servo positions as
// Modbus holding registers and torque enables as coils, both addressed by
// servo id.
package modbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"biped/internal/hardware/comm"
)

type ModbusConfig struct {
	comm.ConnectionConfig `yaml:",inline"`

	Type     string `yaml:"type"`    // "tcp" or "rtu"
	Address  string `yaml:"address"` // host:port or serial device
	BaudRate int    `yaml:"baud_rate"`
	DataBits int    `yaml:"data_bits"`
	StopBits int    `yaml:"stop_bits"`
	Parity   string `yaml:"parity"`
	SlaveID  byte   `yaml:"slave_id"`
}

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type ModbusLink struct {
	*comm.BaseLink
	config  ModbusConfig
	handler modbusHandler
	client  modbus.Client
	mu      sync.Mutex
}

func NewModbusLink(config ModbusConfig) *ModbusLink {
	return &ModbusLink{
		BaseLink: comm.NewBaseLink("modbus_link", config.ConnectionConfig),
		config:   config,
	}
}

// NewModbusLinkWithClient wraps an already connected client.
func NewModbusLinkWithClient(config ModbusConfig, client modbus.Client) *ModbusLink {
	ml := NewModbusLink(config)
	ml.client = client
	ml.SetStatus(comm.StatusConnected)
	return ml
}

func (ml *ModbusLink) Connect(ctx context.Context) error {
	ml.SetStatus(comm.StatusConnecting)

	handler, err := ml.newHandler()
	if err != nil {
		ml.SetStatus(comm.StatusError)
		return ml.Fail(err)
	}
	if err := handler.Connect(); err != nil {
		ml.SetStatus(comm.StatusError)
		return ml.Fail(fmt.Errorf("failed to connect %s Modbus at %s: %w", ml.config.Type, ml.config.Address, err))
	}

	ml.mu.Lock()
	ml.handler = handler
	ml.client = modbus.NewClient(handler)
	ml.mu.Unlock()

	ml.SetStatus(comm.StatusConnected)
	ml.Logger().Info("Modbus link connected", "type", ml.config.Type, "address", ml.config.Address, "slave_id", ml.config.SlaveID)
	return nil
}

func (ml *ModbusLink) newHandler() (modbusHandler, error) {
	timeout := ml.config.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	wireLog := ml.Logger().StdLogger(slog.LevelDebug)

	switch ml.config.Type {
	case "tcp":
		handler := modbus.NewTCPClientHandler(ml.config.Address)
		handler.Timeout = timeout
		handler.SlaveId = ml.config.SlaveID
		handler.Logger = wireLog
		return handler, nil
	case "rtu", "":
		handler := modbus.NewRTUClientHandler(ml.config.Address)
		handler.BaudRate = ml.config.BaudRate
		handler.DataBits = ml.config.DataBits
		handler.StopBits = ml.config.StopBits
		handler.Parity = ml.config.Parity
		handler.SlaveId = ml.config.SlaveID
		handler.Timeout = timeout
		handler.Logger = wireLog
		return handler, nil
	default:
		return nil, fmt.Errorf("unsupported Modbus type: %s", ml.config.Type)
	}
}

func (ml *ModbusLink) Close() error {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	var err error
	if ml.handler != nil {
		err = ml.handler.Close()
		ml.handler = nil
	}
	ml.client = nil
	ml.SetStatus(comm.StatusDisconnected)
	return err
}

func (ml *ModbusLink) do(ctx context.Context, op func(modbus.Client) error) error {
	if !ml.IsConnected() {
		return comm.ErrLinkDown
	}
	return ml.RetryWithTimeout(ctx, func(context.Context) error {
		ml.mu.Lock()
		defer ml.mu.Unlock()
		if ml.client == nil {
			return comm.ErrLinkDown
		}
		return op(ml.client)
	})
}

func (ml *ModbusLink) ReadRaw(ctx context.Context, id int) (int, error) {
	var raw int
	err := ml.do(ctx, func(c modbus.Client) error {
		results, err := c.ReadHoldingRegisters(uint16(id), 1)
		if err != nil {
			return err
		}
		if len(results) < 2 {
			return fmt.Errorf("short register reply for servo %d: %d bytes", id, len(results))
		}
		raw = int(results[0])<<8 | int(results[1])
		return nil
	})
	return raw, err
}

func (ml *ModbusLink) WriteRaw(ctx context.Context, id int, raw int) error {
	return ml.do(ctx, func(c modbus.Client) error {
		_, err := c.WriteSingleRegister(uint16(id), uint16(raw))
		return err
	})
}

func (ml *ModbusLink) SetTorque(ctx context.Context, id int, on bool) error {
	var v uint16
	if on {
		v = 0xFF00
	}
	return ml.do(ctx, func(c modbus.Client) error {
		_, err := c.WriteSingleCoil(uint16(id), v)
		return err
	})
}
