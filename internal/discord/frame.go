package discord

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Opcode is the first header word of an IPC frame.
type Opcode uint32

const (
	OpHandshake Opcode = 0
	OpFrame     Opcode = 1
	OpClose     Opcode = 2
	OpPing      Opcode = 3
	OpPong      Opcode = 4
)

const (
	// headerLen covers the little-endian opcode and payload length words.
	headerLen = 8

	// MaxPayloadSize caps a frame payload in either direction.
	MaxPayloadSize = 1 << 20

	// ipcSlots is how many numbered sockets or pipes Discord may listen on.
	ipcSlots = 10

	// dialTimeout bounds each socket or pipe connection attempt.
	dialTimeout = 500 * time.Millisecond
)

var (
	// ErrPayloadTooLarge is returned for a frame above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrIPCNotAvailable is returned when no Discord IPC endpoint answers.
	ErrIPCNotAvailable = errors.New("discord IPC not available")
)

func (op Opcode) String() string {
	switch op {
	case OpHandshake:
		return "HANDSHAKE"
	case OpFrame:
		return "FRAME"
	case OpClose:
		return "CLOSE"
	case OpPing:
		return "PING"
	case OpPong:
		return "PONG"
	default:
		return fmt.Sprintf("OP(%d)", uint32(op))
	}
}

// ///////////////////////////////////////////////
// Frames
// ///////////////////////////////////////////////

// Frame is one IPC message.
type Frame struct {
	Op      Opcode
	Payload []byte
}

// MarshalBinary lays the frame out as header followed by payload.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %s frame of %d bytes", ErrPayloadTooLarge, f.Op, len(f.Payload))
	}
	buf := make([]byte, 0, headerLen+len(f.Payload))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(f.Op))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(f.Payload)))
	return append(buf, f.Payload...), nil
}

// ReadFrame reads exactly one frame from r. A clean EOF before the header
// is returned as io.EOF; a frame cut short is io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	f := Frame{Op: Opcode(binary.LittleEndian.Uint32(hdr[:4]))}
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n > MaxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %s frame announces %d bytes", ErrPayloadTooLarge, f.Op, n)
	}
	f.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, f.Payload); err != nil {
		return Frame{}, fmt.Errorf("read %s payload: %w", f.Op, err)
	}
	return f, nil
}
