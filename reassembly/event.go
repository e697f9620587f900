package reassembly

import (
	"time"

	"github.com/opd-ai/pepperlink/media"
)

// State is the reassembler's lifecycle state.
type State uint8

const (
	// StateIdle means no session exists; datagrams are discarded.
	StateIdle State = iota
	// StateCapturing means frames are still expected.
	StateCapturing
	// StateDraining means the video is complete and audio may still be pending.
	StateDraining
	// StateFinalizing means a Finalize action was emitted and not yet acknowledged.
	StateFinalizing
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDraining:
		return "draining"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// listening reports whether datagrams belong to a session in this state.
func (s State) listening() bool {
	return s == StateCapturing || s == StateDraining
}

// EventKind identifies an input to the state machine.
type EventKind uint8

const (
	// EventStart begins a new session.
	EventStart EventKind = iota
	// EventStop delivers the exact remaining-frame count.
	EventStop
	// EventDatagram delivers one received datagram.
	EventDatagram
	// EventAudio delivers audio received over the reliable channel.
	EventAudio
	// EventTick is the once-per-poll timer evaluation.
	EventTick
	// EventFinalized acknowledges that the Finalize action was executed.
	EventFinalized
)

// String returns the event name for logs.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventStop:
		return "stop"
	case EventDatagram:
		return "datagram"
	case EventAudio:
		return "audio"
	case EventTick:
		return "tick"
	case EventFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Event is one input to the state machine.
type Event struct {
	Kind EventKind
	// At is when the event was observed.
	At time.Time

	PatientID string          // EventStart
	Count     int             // EventStop
	Data      []byte          // EventDatagram
	Audio     media.AudioBlob // EventAudio
}

// StartEvent creates a start command.
func StartEvent(at time.Time, patientID string) Event {
	return Event{Kind: EventStart, At: at, PatientID: patientID}
}

// StopEvent creates the stop handoff carrying the remaining-frame count.
func StopEvent(at time.Time, remaining int) Event {
	return Event{Kind: EventStop, At: at, Count: remaining}
}

// DatagramEvent wraps one received datagram.
func DatagramEvent(at time.Time, data []byte) Event {
	return Event{Kind: EventDatagram, At: at, Data: data}
}

// AudioEvent wraps audio received over the reliable channel.
func AudioEvent(at time.Time, audio media.AudioBlob) Event {
	return Event{Kind: EventAudio, At: at, Audio: audio}
}

// TickEvent creates a timer evaluation.
func TickEvent(at time.Time) Event {
	return Event{Kind: EventTick, At: at}
}

// FinalizedEvent acknowledges a Finalize action.
func FinalizedEvent(at time.Time) Event {
	return Event{Kind: EventFinalized, At: at}
}

// ActionKind identifies an output of the state machine.
type ActionKind uint8

const (
	// ActionFinalize asks the owner to reconstruct the session's media and
	// then deliver EventFinalized.
	ActionFinalize ActionKind = iota
)

// Action is one output of the state machine.
type Action struct {
	Kind   ActionKind
	Result Result
}

// Result is everything the reconstruction engine needs from a session.
type Result struct {
	SessionID  string
	PatientID  string
	StartedAt  time.Time
	FinishedAt time.Time
	Frames     []media.FrameRecord
	Audio      media.AudioBlob
	Stats      Stats
}
