package sender

import (
	"sync"
	"testing"

	"github.com/opd-ai/pepperlink/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameQueue_FIFOAndPending(t *testing.T) {
	q := NewFrameQueue()
	_, ok := q.Pop()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		q.Push(media.FramePacket{CaptureTimestampMicros: uint64(i), Payload: []byte{byte(i)}})
	}
	assert.Equal(t, 3, q.Pending())

	p, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(1), p.CaptureTimestampMicros)
	assert.Equal(t, 3, q.Pending(), "in-flight frame still pending")
	assert.Equal(t, 2, q.Len())

	q.Done()
	assert.Equal(t, 2, q.Pending())

	q.Done() // extra Done is harmless
	assert.Equal(t, 2, q.Pending())
	assert.Equal(t, uint64(3), q.Pushed())
}

func TestFrameQueue_Concurrent(t *testing.T) {
	q := NewFrameQueue()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				q.Push(media.FramePacket{CaptureTimestampMicros: uint64(i), Payload: []byte{1}})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, q.Pending())

	popped := 0
	for {
		if _, ok := q.Pop(); !ok {
			break
		}
		q.Done()
		popped++
	}
	assert.Equal(t, 1000, popped)
	assert.Equal(t, 0, q.Pending())
}
