// Package transport provides the two channels pepperlink runs over.
//
// # Datagram Channel
//
// DatagramConn wraps a UDP net.PacketConn. Every read is bounded by a
// deadline so the owning worker can evaluate its timers even when no traffic
// arrives:
//
//	conn, err := transport.ListenUDP("0.0.0.0:54322")
//	data, addr, err := conn.ReadDatagram(200 * time.Millisecond)
//	if errors.Is(err, transport.ErrTimeout) {
//	    // idle poll, not a failure
//	}
//
// The sending side implements io.Writer, one datagram per Write call.
//
// # Control Channel
//
// StreamConn wraps a TCP connection for the line-oriented control protocol.
// ReadLine, ReadChunk and ReadFull all take explicit timeouts; an
// unterminated line survives a timeout and is completed by the next read.
//
// # Error Classification
//
// ErrTimeout is an idle poll. ErrClosed and any other error are transport
// failures that end the owning worker (see IsFatal).
package transport
