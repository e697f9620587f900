package sender

import (
	"sync"

	"github.com/opd-ai/pepperlink/media"
)

// FrameQueue is the FIFO between capture and the stream worker.
//
// Pending counts frames queued plus the frame currently being sent, so the
// stop handoff reports exactly how many frames the receiver will still see.
type FrameQueue struct {
	mu       sync.Mutex
	frames   []media.FramePacket
	inFlight int
	pushed   uint64
}

// NewFrameQueue creates an empty queue.
func NewFrameQueue() *FrameQueue {
	return &FrameQueue{}
}

// Push appends a captured frame.
func (q *FrameQueue) Push(p media.FramePacket) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.frames = append(q.frames, p)
	q.pushed++
}

// Pop removes the oldest frame and marks it in flight. Done must be called
// once it has been sent or abandoned.
func (q *FrameQueue) Pop() (media.FramePacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return media.FramePacket{}, false
	}
	p := q.frames[0]
	q.frames[0] = media.FramePacket{}
	q.frames = q.frames[1:]
	q.inFlight++
	return p, true
}

// Done marks a popped frame as no longer in flight.
func (q *FrameQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
	}
}

// Pending returns queued plus in-flight frames.
func (q *FrameQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames) + q.inFlight
}

// Len returns the number of queued frames, excluding in-flight ones.
func (q *FrameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Pushed returns the total number of frames ever queued.
func (q *FrameQueue) Pushed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pushed
}
