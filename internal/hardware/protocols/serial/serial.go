// Package serial talks to the motor-driver board over its USB-CDC serial port
// using a small framed request/reply protocol.
package serial

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/jacobsa/go-serial/serial"

	"biped/internal/hardware/comm"
)

type SerialConfig struct {
	comm.ConnectionConfig `yaml:",inline"`

	PortName    string `yaml:"port_name"`
	BaudRate    int    `yaml:"baud_rate"`
	DataBits    int    `yaml:"data_bits"`
	StopBits    int    `yaml:"stop_bits"`
	Parity      string `yaml:"parity"`
	FlowControl bool   `yaml:"flow_control"`
}

// OpenFunc opens the underlying port.
type OpenFunc func(SerialConfig) (io.ReadWriteCloser, error)

// SerialLink is a comm.Connection over a serial port. Requests are strictly
// serialized: one frame out, one reply in.
type SerialLink struct {
	*comm.BaseLink
	config SerialConfig
	open   OpenFunc
	port   io.ReadWriteCloser
	mu     sync.Mutex
}

func NewSerialLink(config SerialConfig) *SerialLink {
	return NewSerialLinkWithOpener(config, openPort)
}

// NewSerialLinkWithOpener uses open instead of the operating system port.
func NewSerialLinkWithOpener(config SerialConfig, open OpenFunc) *SerialLink {
	return &SerialLink{
		BaseLink: comm.NewBaseLink("serial_link", config.ConnectionConfig),
		config:   config,
		open:     open,
	}
}

func openPort(config SerialConfig) (io.ReadWriteCloser, error) {
	options := serial.OpenOptions{
		PortName:          config.PortName,
		BaudRate:          uint(config.BaudRate),
		DataBits:          uint(config.DataBits),
		StopBits:          uint(config.StopBits),
		MinimumReadSize:   1,
		RTSCTSFlowControl: config.FlowControl,
	}
	if config.Timeout > 0 {
		options.InterCharacterTimeout = uint(config.Timeout.Milliseconds())
		options.MinimumReadSize = 0
	}

	switch config.Parity {
	case "E", "e":
		options.ParityMode = serial.PARITY_EVEN
	case "O", "o":
		options.ParityMode = serial.PARITY_ODD
	default:
		options.ParityMode = serial.PARITY_NONE
	}

	return serial.Open(options)
}

func (sl *SerialLink) Connect(ctx context.Context) error {
	sl.SetStatus(comm.StatusConnecting)

	port, err := sl.open(sl.config)
	if err != nil {
		sl.SetStatus(comm.StatusError)
		return sl.Fail(fmt.Errorf("failed to open serial port %s: %w", sl.config.PortName, err))
	}

	sl.mu.Lock()
	sl.port = port
	sl.mu.Unlock()

	sl.SetStatus(comm.StatusConnected)
	sl.Logger().Info("Serial link connected", "port", sl.config.PortName, "baud_rate", sl.config.BaudRate)
	return nil
}

func (sl *SerialLink) Close() error {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var err error
	if sl.port != nil {
		err = sl.port.Close()
		sl.port = nil
	}
	sl.SetStatus(comm.StatusDisconnected)
	if err != nil {
		return sl.Fail(fmt.Errorf("failed to close serial port: %w", err))
	}
	return nil
}

// exchange sends req and reads the reply, which must echo the command with
// the reply flag set and carry the same id.
func (sl *SerialLink) exchange(ctx context.Context, req Frame) (Frame, error) {
	if !sl.IsConnected() {
		return Frame{}, comm.ErrLinkDown
	}

	var reply Frame
	err := sl.RetryWithTimeout(ctx, func(ctx context.Context) error {
		sl.mu.Lock()
		defer sl.mu.Unlock()

		if sl.port == nil {
			return comm.ErrLinkDown
		}
		if _, err := sl.port.Write(req.Encode()); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}

		var err error
		reply, err = ReadFrame(sl.port)
		if err != nil {
			return fmt.Errorf("failed to read reply: %w", err)
		}
		if reply.Cmd != req.Cmd|replyFlag || reply.ID != req.ID {
			return fmt.Errorf("%w: cmd 0x%02x id %d", ErrUnexpected, reply.Cmd, reply.ID)
		}
		return ctx.Err()
	})
	return reply, err
}

func (sl *SerialLink) ReadRaw(ctx context.Context, id int) (int, error) {
	reply, err := sl.exchange(ctx, readRequest(id))
	if err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint16(reply.Payload)), nil
}

func (sl *SerialLink) WriteRaw(ctx context.Context, id int, raw int) error {
	_, err := sl.exchange(ctx, writeRequest(id, raw))
	return err
}

func (sl *SerialLink) SetTorque(ctx context.Context, id int, on bool) error {
	_, err := sl.exchange(ctx, torqueRequest(id, on))
	return err
}
