package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/sirupsen/logrus"
)

// DatagramConn is the unreliable datagram channel. The receiver listens on a
// fixed port; the sender binds an ephemeral port and writes to the receiver.
type DatagramConn struct {
	conn   net.PacketConn
	remote net.Addr // nil on the listening side
	buffer []byte
	mu     sync.Mutex // guards buffer; reads happen on one worker but Close may race
	closed bool
}

// ListenUDP opens the receiving side of the datagram channel.
func ListenUDP(listenAddr string) (*DatagramConn, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", listenAddr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ListenUDP",
		"local_addr": conn.LocalAddr().String(),
	}).Info("Datagram channel listening")

	return &DatagramConn{
		conn:   conn,
		buffer: make([]byte, limits.MaxDatagram),
	}, nil
}

// DialUDP opens the sending side of the datagram channel towards remoteAddr.
func DialUDP(remoteAddr string) (*DatagramConn, error) {
	remote, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", remoteAddr, err)
	}

	conn, err := net.ListenPacket("udp", ":0")
	if err != nil {
		return nil, fmt.Errorf("bind udp: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "DialUDP",
		"local_addr":  conn.LocalAddr().String(),
		"remote_addr": remote.String(),
	}).Info("Datagram channel ready")

	return &DatagramConn{
		conn:   conn,
		remote: remote,
		buffer: make([]byte, limits.MaxDatagram),
	}, nil
}

// Write sends one datagram to the remote peer. It satisfies io.Writer so the
// chunker can emit fragments without knowing about sockets.
func (c *DatagramConn) Write(p []byte) (int, error) {
	if c.remote == nil {
		return 0, fmt.Errorf("datagram conn has no remote peer")
	}
	n, err := c.conn.WriteTo(p, c.remote)
	if err != nil {
		return n, c.classifyError(err)
	}
	return n, nil
}

// ReadDatagram waits up to timeout for one datagram and returns a copy of it.
//
// A deadline expiry returns ErrTimeout, which callers treat as an idle poll.
// Any other error is a transport failure.
func (c *DatagramConn) ReadDatagram(timeout time.Duration) ([]byte, net.Addr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, ErrClosed
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, nil, c.classifyError(err)
	}

	n, addr, err := c.conn.ReadFrom(c.buffer)
	if err != nil {
		return nil, nil, c.classifyError(err)
	}

	data := make([]byte, n)
	copy(data, c.buffer[:n])
	return data, addr, nil
}

// classifyError maps socket errors onto the package sentinels.
func (c *DatagramConn) classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

// LocalAddr returns the bound local address.
func (c *DatagramConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the peer address, or nil on the listening side.
func (c *DatagramConn) RemoteAddr() net.Addr {
	return c.remote
}

// Close releases the socket. A concurrent ReadDatagram returns ErrClosed.
func (c *DatagramConn) Close() error {
	// Closing first unblocks a reader holding mu.
	err := c.conn.Close()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return err
}
