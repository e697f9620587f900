package transport

import "errors"

var (
	// ErrTimeout indicates a bounded wait expired with no data. It is not fatal.
	ErrTimeout = errors.New("transport: timeout")

	// ErrClosed indicates the socket was closed locally or by the peer.
	ErrClosed = errors.New("transport: closed")

	// ErrLineTooLong indicates a control line exceeded limits.MaxControlLine.
	ErrLineTooLong = errors.New("transport: control line too long")
)

// IsFatal reports whether err should terminate the worker owning the socket.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrTimeout)
}
