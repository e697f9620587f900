package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPipePair returns both ends of an in-memory connection.
func newPipePair(t *testing.T) (*StreamConn, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return NewStreamConn(local), remote
}

func TestStreamConn_ReadLineAcrossPartialWrites(t *testing.T) {
	conn, peer := newPipePair(t)

	go func() {
		peer.Write([]byte("5"))
		time.Sleep(10 * time.Millisecond)
		peer.Write([]byte("7\nAUDIO_NONE\n"))
	}()

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "57", line)

	line, err = conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "AUDIO_NONE", line)
}

func TestStreamConn_PartialLineSurvivesTimeout(t *testing.T) {
	conn, peer := newPipePair(t)

	go peer.Write([]byte("sto"))

	_, err := conn.ReadLine(50 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	go peer.Write([]byte("p\n"))

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "stop", line)
}

func TestStreamConn_ReadLineStripsCarriageReturn(t *testing.T) {
	conn, peer := newPipePair(t)
	go peer.Write([]byte("start 3\r\n"))

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "start 3", line)
}

func TestStreamConn_ReadFullAfterLine(t *testing.T) {
	conn, peer := newPipePair(t)

	go func() {
		peer.Write([]byte("AUDIO_LEN:4\nab"))
		time.Sleep(10 * time.Millisecond)
		peer.Write([]byte("cd"))
	}()

	line, err := conn.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "AUDIO_LEN:4", line)

	data, err := conn.ReadFull(4, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)
}

func TestStreamConn_ReadChunk(t *testing.T) {
	conn, peer := newPipePair(t)
	go peer.Write([]byte("start"))

	chunk, err := conn.ReadChunk(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("start"), chunk)

	_, err = conn.ReadChunk(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStreamConn_PeerClose(t *testing.T) {
	conn, peer := newPipePair(t)
	peer.Close()

	_, err := conn.ReadLine(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestListenDialAccept(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	accepted := make(chan *StreamConn, 1)
	go func() {
		c, err := l.Accept(2 * time.Second)
		if err == nil {
			accepted <- c
		}
		close(accepted)
	}()

	client, err := Dial(context.Background(), l.Addr().String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	server, ok := <-accepted
	require.True(t, ok)
	defer server.Close()

	require.NoError(t, client.WriteAll([]byte("12"), []byte("\n")))
	line, err := server.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "12", line)
}

func TestListener_AcceptTimeout(t *testing.T) {
	l, err := Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()

	_, err = l.Accept(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestStreamConn_TakePartial(t *testing.T) {
	conn, peer := newPipePair(t)

	go peer.Write([]byte("start 17"))

	_, err := conn.ReadLine(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	assert.Equal(t, []byte("start 17"), conn.TakePartial())
	assert.Nil(t, conn.TakePartial())
}
