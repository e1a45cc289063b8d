package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

const (
	// MaxUpMessageSize is the maximum size of a message sent by a client.
	MaxUpMessageSize = 4096
	// MaxDownMessageSize is the maximum size of a message accepted from a server.
	MaxDownMessageSize = 1 << 20
)

// WriteFrame writes the length prefixed payload.
func WriteFrame(w io.Writer, payload []byte) error {
	buffer := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(buffer, uint32(len(payload)))
	copy(buffer[4:], payload)
	_, err := w.Write(buffer)
	return err
}

// ReadFrame reads one length prefixed payload. Frames larger than limit are rejected with ErrMessageTooLarge,
// the stream cannot be used after that.
func ReadFrame(r io.Reader, limit int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if int64(length) > int64(limit) {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Conn reads and writes messages on a stream. Reads and writes may happen concurrently,
// concurrent writes are serialized.
type Conn struct {
	rw        io.ReadWriter
	writeLock sync.Mutex
}

func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{rw: rw}
}

func (c *Conn) ReadUp() (UpMessage, error) {
	payload, err := ReadFrame(c.rw, MaxUpMessageSize)
	if err != nil {
		return nil, err
	}
	return UnmarshalUp(payload)
}

func (c *Conn) WriteUp(msg UpMessage) error {
	payload, err := MarshalUp(msg)
	if err != nil {
		return err
	}
	if len(payload) > MaxUpMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(payload))
	}
	return c.write(payload)
}

func (c *Conn) ReadDown() (DownMessage, error) {
	payload, err := ReadFrame(c.rw, MaxDownMessageSize)
	if err != nil {
		return nil, err
	}
	return UnmarshalDown(payload)
}

func (c *Conn) WriteDown(msg DownMessage) error {
	payload, err := MarshalDown(msg)
	if err != nil {
		return err
	}
	return c.write(payload)
}

func (c *Conn) write(payload []byte) error {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()
	return WriteFrame(c.rw, payload)
}
