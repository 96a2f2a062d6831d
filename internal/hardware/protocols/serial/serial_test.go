package serial

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biped/internal/hardware/comm"
)

// fakePort answers every request frame with handle's reply.
type fakePort struct {
	handle func(Frame) []byte
	out    bytes.Buffer
	closed bool
}

func (p *fakePort) Write(b []byte) (int, error) {
	req, err := ReadFrame(bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	p.out.Write(p.handle(req))
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func boardPort(registers map[byte]uint16, torque map[byte]bool) *fakePort {
	return &fakePort{handle: func(req Frame) []byte {
		reply := Frame{Cmd: req.Cmd | replyFlag, ID: req.ID}
		switch req.Cmd {
		case CmdRead:
			reply.Payload = binary.BigEndian.AppendUint16(nil, registers[req.ID])
		case CmdWrite:
			registers[req.ID] = binary.BigEndian.Uint16(req.Payload)
		case CmdTorque:
			torque[req.ID] = req.Payload[0] == 1
		}
		return reply.Encode()
	}}
}

func connect(t *testing.T, port io.ReadWriteCloser, retries int) *SerialLink {
	t.Helper()
	link := NewSerialLinkWithOpener(SerialConfig{
		ConnectionConfig: comm.ConnectionConfig{RetryCount: retries, RetryInterval: time.Millisecond},
		PortName:         "/dev/ttyACM0",
	}, func(SerialConfig) (io.ReadWriteCloser, error) { return port, nil })
	require.NoError(t, link.Connect(context.Background()))
	return link
}

func TestCalculateCRC(t *testing.T) {
	// Reference vector for CRC16/MODBUS.
	assert.Equal(t, uint16(0x4B37), calculateCRC([]byte("123456789")))
}

func TestFrameRoundTrip(t *testing.T) {
	f := writeRequest(7, 700)
	encoded := f.Encode()
	assert.Equal(t, []byte{0xFF, 0xFF, CmdWrite, 7, 0x02, 0xBC}, encoded[:6])

	got, err := ReadFrame(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestReadFrameRejectsCorruption(t *testing.T) {
	encoded := torqueRequest(3, true).Encode()

	bad := append([]byte(nil), encoded...)
	bad[len(bad)-1] ^= 0xFF
	_, err := ReadFrame(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrBadChecksum)

	bad = append([]byte(nil), encoded...)
	bad[0] = 0x00
	_, err = ReadFrame(bytes.NewReader(bad))
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestReadFrameSkipsStrayBytes(t *testing.T) {
	f := readRequest(5)
	stream := append([]byte{0x12, 0xFF, 0x34}, f.Encode()...)

	got, err := ReadFrame(bytes.NewReader(stream))
	require.NoError(t, err)
	assert.Equal(t, f.Cmd, got.Cmd)
	assert.Equal(t, f.ID, got.ID)

	_, err = ReadFrame(bytes.NewReader(bytes.Repeat([]byte{0x01}, 2*maxSkip)))
	assert.ErrorIs(t, err, ErrBadHeader)
}

// stallingPort hands out the first cut bytes of its output, then reports a
// read timeout (io.EOF) once, like a port whose board stalls mid-reply.
type stallingPort struct {
	*fakePort
	cut   int
	stall bool
}

func (p *stallingPort) Read(b []byte) (int, error) {
	switch {
	case p.cut > 0:
		if len(b) > p.cut {
			b = b[:p.cut]
		}
		n, err := p.out.Read(b)
		p.cut -= n
		p.stall = p.cut == 0
		return n, err
	case p.stall:
		p.stall = false
		return 0, io.EOF
	}
	return p.out.Read(b)
}

func TestSerialLinkRecoversFromTruncatedReply(t *testing.T) {
	registers := map[byte]uint16{2: 300}
	port := &stallingPort{fakePort: boardPort(registers, map[byte]bool{}), cut: 3}
	link := connect(t, port, 0)
	ctx := context.Background()

	_, err := link.ReadRaw(ctx, 2)
	require.Error(t, err, "reply cut short")

	for i := 0; i < 5; i++ {
		raw, err := link.ReadRaw(ctx, 2)
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, 300, raw)
	}
}

func TestSerialLinkReadWriteTorque(t *testing.T) {
	registers := map[byte]uint16{1: 512, 2: 300}
	torque := map[byte]bool{}
	port := boardPort(registers, torque)
	link := connect(t, port, 0)
	ctx := context.Background()

	raw, err := link.ReadRaw(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 300, raw)

	require.NoError(t, link.WriteRaw(ctx, 1, 640))
	assert.Equal(t, uint16(640), registers[1])

	require.NoError(t, link.SetTorque(ctx, 1, true))
	assert.True(t, torque[1])

	require.NoError(t, link.Close())
	assert.True(t, port.closed)
	assert.Equal(t, comm.StatusDisconnected, link.Status())
}

func TestSerialLinkRejectsMismatchedReply(t *testing.T) {
	port := &fakePort{handle: func(req Frame) []byte {
		return Frame{Cmd: CmdRead | replyFlag, ID: req.ID + 1, Payload: []byte{0, 1}}.Encode()
	}}
	link := connect(t, port, 1)

	_, err := link.ReadRaw(context.Background(), 4)
	assert.ErrorIs(t, err, ErrUnexpected)
	assert.Error(t, link.LastError())
}

func TestSerialLinkDownBeforeConnect(t *testing.T) {
	link := NewSerialLink(SerialConfig{PortName: "/dev/null"})
	_, err := link.ReadRaw(context.Background(), 1)
	assert.ErrorIs(t, err, comm.ErrLinkDown)
}

func TestSerialLinkConnectFailure(t *testing.T) {
	boom := errors.New("no such device")
	link := NewSerialLinkWithOpener(SerialConfig{PortName: "/dev/ttyACM9"},
		func(SerialConfig) (io.ReadWriteCloser, error) { return nil, boom })

	err := link.Connect(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, comm.StatusError, link.Status())
}
