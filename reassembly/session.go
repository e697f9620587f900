package reassembly

import (
	"time"

	"github.com/opd-ai/pepperlink/media"
)

// Stats counts what happened to a session's datagrams.
type Stats struct {
	Datagrams        int
	FramesAccepted   int
	FramesMalformed  int
	FramesDuplicate  int
	FramesOverflowed int
	LegacyFrames     int
	ClockRestarts    int
	EmptyEnds        int
	StrayDatagrams   int
	AudioBytes       int
	// PreAudioPromoted is set when audio was recovered without an AUDIO_START.
	PreAudioPromoted bool
	// ForcedCompletion is set when the video was completed by inactivity.
	ForcedCompletion bool
}

// session is the accumulation owned by one Start..Finalized cycle.
type session struct {
	id        string
	patientID string
	startedAt time.Time

	// countdown is -1 until the stop handoff, then the frames still expected.
	countdown int
	handoff   bool

	frameBuf     []byte
	records      []media.FrameRecord
	baseline     uint64
	haveBaseline bool
	epoch        int

	preAudio    []byte
	audioBuf    []byte
	audioActive bool
	audioDone   bool
	audio       media.AudioBlob

	lastFragmentAt time.Time
	lastAudioAt    time.Time
	framesZeroAt   time.Time

	stats Stats
}

func newSession(id, patientID string, at time.Time, audioExpected bool) *session {
	s := &session{
		id:        id,
		patientID: patientID,
		startedAt: at,
		countdown: -1,
	}
	if !audioExpected {
		s.audioDone = true
		s.audio = media.NoAudio()
	}
	return s
}

func (s *session) framesComplete() bool {
	return s.countdown == 0
}

func (s *session) complete() bool {
	return s.framesComplete() && s.audioDone
}

// Snapshot is a copy of the session status for monitoring.
type Snapshot struct {
	State         State
	SessionID     string
	PatientID     string
	StartedAt     time.Time
	Countdown     int
	Frames        int
	PendingBytes  int
	PreAudioBytes int
	AudioActive   bool
	AudioDone     bool
	Audio         media.AudioBlob
	Stats         Stats
}

func (s *session) snapshot(state State) Snapshot {
	return Snapshot{
		State:         state,
		SessionID:     s.id,
		PatientID:     s.patientID,
		StartedAt:     s.startedAt,
		Countdown:     s.countdown,
		Frames:        len(s.records),
		PendingBytes:  len(s.frameBuf),
		PreAudioBytes: len(s.preAudio),
		AudioActive:   s.audioActive,
		AudioDone:     s.audioDone,
		Audio:         s.audio,
		Stats:         s.stats,
	}
}
