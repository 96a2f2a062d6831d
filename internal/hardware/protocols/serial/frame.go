package serial

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame layout on the wire:
//
//	0xFF 0xFF cmd id payload... crc16-lo crc16-hi
//
// The CRC covers cmd, id and payload.
const (
	headerByte = 0xFF

	CmdRead   byte = 0x01
	CmdWrite  byte = 0x02
	CmdTorque byte = 0x03

	replyFlag byte = 0x80
)

var (
	ErrBadHeader   = errors.New("bad frame header")
	ErrBadChecksum = errors.New("frame checksum mismatch")
	ErrUnexpected  = errors.New("unexpected reply")
)

// Frame is one request or reply exchanged with the motor-driver board.
type Frame struct {
	Cmd     byte
	ID      byte
	Payload []byte
}

// payloadLen is the payload size implied by a command byte.
func payloadLen(cmd byte) (int, error) {
	switch cmd {
	case CmdRead, CmdWrite | replyFlag, CmdTorque | replyFlag:
		return 0, nil
	case CmdTorque:
		return 1, nil
	case CmdWrite, CmdRead | replyFlag:
		return 2, nil
	default:
		return 0, fmt.Errorf("unknown command 0x%02x", cmd)
	}
}

// Encode appends the checksum and header to the frame.
func (f Frame) Encode() []byte {
	body := make([]byte, 0, 2+len(f.Payload))
	body = append(body, f.Cmd, f.ID)
	body = append(body, f.Payload...)

	crc := calculateCRC(body)
	out := make([]byte, 0, len(body)+4)
	out = append(out, headerByte, headerByte)
	out = append(out, body...)
	return append(out, byte(crc&0xFF), byte(crc>>8))
}

// maxSkip bounds how many stray bytes ReadFrame discards looking for a header.
const maxSkip = 64

// syncHeader consumes bytes up to and including a 0xFF 0xFF header and
// returns the command byte that follows it. Bytes before the header, such as
// the tail of a reply cut short by a read timeout, are discarded.
func syncHeader(r io.Reader) (byte, error) {
	b := make([]byte, 1)
	run, skipped := 0, 0
	for {
		if _, err := io.ReadFull(r, b); err != nil {
			if skipped > 0 {
				return 0, fmt.Errorf("%w after %d stray bytes: %w", ErrBadHeader, skipped, err)
			}
			return 0, err
		}
		if b[0] == headerByte {
			run++
			continue
		}
		if run >= 2 {
			return b[0], nil
		}
		skipped += run + 1
		run = 0
		if skipped > maxSkip {
			return 0, fmt.Errorf("%w: no header in %d bytes", ErrBadHeader, skipped)
		}
	}
}

// ReadFrame reads the next frame from r, resynchronizing on the header.
func ReadFrame(r io.Reader) (Frame, error) {
	cmd, err := syncHeader(r)
	if err != nil {
		return Frame{}, err
	}
	n, err := payloadLen(cmd)
	if err != nil {
		return Frame{}, err
	}

	rest := make([]byte, 1+n+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return Frame{}, err
	}
	id, payload := rest[0], rest[1:1+n]

	body := append([]byte{cmd, id}, payload...)
	crc := calculateCRC(body)
	if rest[1+n] != byte(crc&0xFF) || rest[2+n] != byte(crc>>8) {
		return Frame{}, ErrBadChecksum
	}
	return Frame{Cmd: cmd, ID: id, Payload: payload}, nil
}

func readRequest(id int) Frame {
	return Frame{Cmd: CmdRead, ID: byte(id)}
}

func writeRequest(id, raw int) Frame {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, uint16(raw))
	return Frame{Cmd: CmdWrite, ID: byte(id), Payload: payload}
}

func torqueRequest(id int, on bool) Frame {
	var v byte
	if on {
		v = 1
	}
	return Frame{Cmd: CmdTorque, ID: byte(id), Payload: []byte{v}}
}

// calculateCRC computes CRC16/MODBUS.
func calculateCRC(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc >>= 1
				crc ^= 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
