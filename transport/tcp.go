package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds every write on the control channel.
const DefaultWriteTimeout = 5 * time.Second

// Listener accepts the sender's control connection.
type Listener struct {
	listener *net.TCPListener
}

// Listen opens the control channel listener.
func Listen(listenAddr string) (*Listener, error) {
	addr, err := net.ResolveTCPAddr("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", listenAddr, err)
	}
	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", listenAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Listen",
		"local_addr": l.Addr().String(),
	}).Info("Control channel listening")

	return &Listener{listener: l}, nil
}

// Accept waits up to timeout for one connection.
func (l *Listener) Accept(timeout time.Duration) (*StreamConn, error) {
	if err := l.listener.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, classifyStreamError(err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Listener.Accept",
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Control connection accepted")

	return NewStreamConn(conn), nil
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close stops listening.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial connects to the controller's listener.
func Dial(ctx context.Context, addr string, timeout time.Duration) (*StreamConn, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Dial",
		"remote_addr": conn.RemoteAddr().String(),
	}).Info("Control connection established")

	return NewStreamConn(conn), nil
}

// StreamConn is the reliable, line/byte-oriented control channel.
//
// Reads are expected from a single goroutine. Writes are serialized so the
// count handoff and the audio bytes can never interleave.
type StreamConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	partial []byte // bytes of an unterminated line carried across timeouts
	wmu     sync.Mutex
}

// NewStreamConn wraps an established connection.
func NewStreamConn(conn net.Conn) *StreamConn {
	return &StreamConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, limits.MaxControlLine),
	}
}

// ReadLine reads one '\n'-terminated line, waiting at most timeout.
// The returned line excludes the terminator. Partial data read before a
// timeout is kept for the next call.
func (c *StreamConn) ReadLine(timeout time.Duration) (string, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return "", classifyStreamError(err)
	}

	for {
		chunk, err := c.reader.ReadSlice('\n')
		c.partial = append(c.partial, chunk...)

		if len(c.partial) > limits.MaxControlLine {
			c.partial = nil
			return "", ErrLineTooLong
		}

		switch {
		case err == nil:
			line := string(bytes.TrimRight(c.partial, "\r\n"))
			c.partial = nil
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return "", classifyStreamError(err)
		}
	}
}

// TakePartial returns and clears the bytes of an unterminated line left
// behind by a ReadLine timeout.
func (c *StreamConn) TakePartial() []byte {
	out := c.partial
	c.partial = nil
	return out
}

// ReadChunk returns whatever bytes arrive next, waiting at most timeout.
// Buffered bytes from an earlier partial line are returned first.
func (c *StreamConn) ReadChunk(timeout time.Duration) ([]byte, error) {
	if len(c.partial) > 0 {
		out := c.partial
		c.partial = nil
		return out, nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, classifyStreamError(err)
	}

	buf := make([]byte, limits.MaxControlLine)
	n, err := c.reader.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	return nil, classifyStreamError(err)
}

// ReadFull reads exactly n bytes, waiting at most timeout overall.
func (c *StreamConn) ReadFull(n int, timeout time.Duration) ([]byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, classifyStreamError(err)
	}

	out := make([]byte, n)
	copied := copy(out, c.partial)
	c.partial = c.partial[copied:]
	if len(c.partial) == 0 {
		c.partial = nil
	}

	if _, err := io.ReadFull(c.reader, out[copied:]); err != nil {
		return nil, classifyStreamError(err)
	}
	return out, nil
}

// Write sends raw bytes with DefaultWriteTimeout.
func (c *StreamConn) Write(p []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return classifyStreamError(err)
	}
	if _, err := c.conn.Write(p); err != nil {
		return classifyStreamError(err)
	}
	return nil
}

// WriteAll sends several buffers back to back while holding the write lock.
func (c *StreamConn) WriteAll(parts ...[]byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout)); err != nil {
		return classifyStreamError(err)
	}
	for _, p := range parts {
		if _, err := c.conn.Write(p); err != nil {
			return classifyStreamError(err)
		}
	}
	return nil
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}

// classifyStreamError maps stream errors onto the package sentinels.
func classifyStreamError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
