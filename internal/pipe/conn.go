package pipe

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

const (
	headerSize = 4
	// MaxFrameSize bounds a single message in either direction.
	MaxFrameSize = 1 << 20
)

// Stream is the duplex byte stream a Conn frames messages on. Named pipes,
// unix sockets and net.Pipe all satisfy it.
type Stream interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// Conn sends and receives length-delimited frames: a 4-byte little-endian
// payload length followed by the payload. It is single-owner.
type Conn struct {
	s      Stream
	broken bool
	closed bool
}

func NewConn(s Stream) *Conn {
	return &Conn{s: s}
}

// WriteFrame writes payload as one frame. A write that reports fewer bytes
// than the frame length yields a WriteCount error.
func (c *Conn) WriteFrame(payload []byte) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(payload) > MaxFrameSize {
		return API(fmt.Errorf("frame of %d bytes exceeds limit %d", len(payload), MaxFrameSize))
	}
	buf := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[headerSize:], payload)

	n, err := c.s.Write(buf)
	if n < len(buf) && (err == nil || errors.Is(err, io.ErrShortWrite)) {
		c.broken = true
		return WriteCount(len(buf), uint32(n))
	}
	if err != nil {
		c.broken = true
		return classify(err)
	}
	return nil
}

// ReadFrame blocks for the next frame for at most timeout; zero waits forever.
// A timeout before the first header byte leaves the connection usable; a
// timeout in the middle of a frame breaks it.
func (c *Conn) ReadFrame(timeout time.Duration) ([]byte, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.s.SetReadDeadline(deadline); err != nil {
		return nil, classify(err)
	}

	var header [headerSize]byte
	n, err := io.ReadFull(c.s, header[:])
	if err != nil {
		if n > 0 {
			c.broken = true
		}
		return nil, c.readErr(err)
	}
	size := binary.LittleEndian.Uint32(header[:])
	if size > MaxFrameSize {
		c.broken = true
		return nil, API(fmt.Errorf("frame of %d bytes exceeds limit %d", size, MaxFrameSize))
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(c.s, payload); err != nil {
		c.broken = true
		return nil, c.readErr(err)
	}
	return payload, nil
}

// Close releases the underlying stream. Further calls return NotConnected.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.s.Close(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Conn) usable() error {
	if c.closed || c.broken {
		return ErrNotConnected
	}
	return nil
}

func (c *Conn) readErr(err error) error {
	perr := classify(err)
	if perr.Kind == KindNotConnected {
		c.broken = true
	}
	return perr
}

func classify(err error) *Error {
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded):
		return Timeout(err)
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET):
		return &Error{Kind: KindNotConnected, Err: err}
	default:
		return API(err)
	}
}
