package wire

import "bytes"

// Literal marker tokens. Each is sent as a standalone datagram.
var (
	MarkerFrameEnd   = []byte("END")
	MarkerAudioStart = []byte("AUDIO_START")
	MarkerAudioEnd   = []byte("AUDIO_END")
	MarkerAudioNone  = []byte("AUDIO_NONE")
)

// MarkerRepeat is how many times audio markers are sent for loss resilience.
const MarkerRepeat = 3

// Kind classifies a received datagram.
type Kind uint8

const (
	// KindData is a fragment of a frame or of the audio blob.
	KindData Kind = iota
	// KindFrameEnd terminates the current frame.
	KindFrameEnd
	// KindAudioStart begins audio accumulation.
	KindAudioStart
	// KindAudioEnd completes audio accumulation.
	KindAudioEnd
	// KindAudioNone announces that no audio was captured.
	KindAudioNone
)

// String returns a short name for log fields.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindFrameEnd:
		return "END"
	case KindAudioStart:
		return "AUDIO_START"
	case KindAudioEnd:
		return "AUDIO_END"
	case KindAudioNone:
		return "AUDIO_NONE"
	default:
		return "unknown"
	}
}

// IsMarker reports whether the kind is one of the literal tokens.
func (k Kind) IsMarker() bool {
	return k != KindData
}

// Classify determines the kind of a datagram by exact token comparison.
func Classify(datagram []byte) Kind {
	// Markers are short; avoid comparisons for ordinary fragments.
	if len(datagram) > len(MarkerAudioStart) {
		return KindData
	}
	switch {
	case bytes.Equal(datagram, MarkerFrameEnd):
		return KindFrameEnd
	case bytes.Equal(datagram, MarkerAudioStart):
		return KindAudioStart
	case bytes.Equal(datagram, MarkerAudioEnd):
		return KindAudioEnd
	case bytes.Equal(datagram, MarkerAudioNone):
		return KindAudioNone
	default:
		return KindData
	}
}
