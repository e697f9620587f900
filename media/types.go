// Package media defines the data model shared by the pepperlink sender and
// receiver: captured frames, receiver-side frame records and audio blobs.
//
// The types are plain values. Ownership moves from the capture collaborator
// to the chunker, and on the receiving side from the reassembler to the
// reconstruction engine, without any shared mutation.
package media

import "fmt"

// FramePacket is one encoded image as produced by the capture collaborator.
type FramePacket struct {
	// CaptureTimestampMicros is the sender's monotonic capture time in microseconds.
	CaptureTimestampMicros uint64
	// Payload is the opaque encoded image (JPEG in practice).
	Payload []byte
}

// String implements fmt.Stringer for log output.
func (p FramePacket) String() string {
	return fmt.Sprintf("frame(ts=%dus, %d bytes)", p.CaptureTimestampMicros, len(p.Payload))
}

// FrameRecord is a frame reassembled on the receiver.
//
// HasTimestamp is false for legacy buffers that carried no decodable header;
// such records are kept as best-effort, unordered data.
type FrameRecord struct {
	Timestamp    uint64
	HasTimestamp bool
	// Epoch counts the sender clock restarts accepted before this record
	// within the same session. Records are only comparable within an epoch.
	Epoch int
	// Arrival is the zero-based arrival index within the session.
	Arrival int
	Payload []byte
}

// NewTimedRecord creates a record carrying a capture timestamp.
func NewTimedRecord(ts uint64, epoch, arrival int, payload []byte) FrameRecord {
	return FrameRecord{
		Timestamp:    ts,
		HasTimestamp: true,
		Epoch:        epoch,
		Arrival:      arrival,
		Payload:      payload,
	}
}

// NewLegacyRecord creates a record without a timestamp.
func NewLegacyRecord(arrival int, payload []byte) FrameRecord {
	return FrameRecord{Arrival: arrival, Payload: payload}
}

// AudioBlob is the raw audio captured alongside a session.
//
// The zero value is "no audio". A present blob may still be empty, which is
// distinct from no audio: it means audio was announced but nothing arrived.
type AudioBlob struct {
	data    []byte
	present bool
}

// NoAudio returns the explicit "no audio" value.
func NoAudio() AudioBlob {
	return AudioBlob{}
}

// NewAudioBlob wraps captured audio bytes. The slice is not copied.
func NewAudioBlob(data []byte) AudioBlob {
	if data == nil {
		data = []byte{}
	}
	return AudioBlob{data: data, present: true}
}

// Present reports whether audio was captured.
func (a AudioBlob) Present() bool {
	return a.present
}

// Bytes returns the audio bytes, or nil when no audio is present.
func (a AudioBlob) Bytes() []byte {
	if !a.present {
		return nil
	}
	return a.data
}

// Len returns the number of audio bytes.
func (a AudioBlob) Len() int {
	return len(a.data)
}

// Usable reports whether the blob is present and non-empty.
func (a AudioBlob) Usable() bool {
	return a.present && len(a.data) > 0
}

// String implements fmt.Stringer for log output.
func (a AudioBlob) String() string {
	if !a.present {
		return "audio(none)"
	}
	return fmt.Sprintf("audio(%d bytes)", len(a.data))
}
