package reassembly

import (
	"fmt"
	"time"
)

// Default thresholds. They were tuned empirically on a congested Wi-Fi link
// and may need retuning per deployment.
const (
	DefaultResetGapMicros       uint64 = 1_000_000_000 // ~1000 s
	DefaultInactivityTimeout           = 2 * time.Second
	DefaultAudioStartTimeout           = 10 * time.Second
	DefaultAudioIdleTimeout            = 8 * time.Second
	DefaultPreAudioPromoteBytes        = 4096
)

// Config holds the reassembler thresholds.
type Config struct {
	// ResetGapMicros is how far a timestamp must fall behind the baseline to
	// be taken as a sender clock restart instead of a duplicate.
	ResetGapMicros uint64
	// InactivityTimeout completes the video when no fragment arrives for
	// this long while frames are still expected.
	InactivityTimeout time.Duration
	// AudioStartTimeout gives up waiting for AUDIO_START after the video completed.
	AudioStartTimeout time.Duration
	// AudioIdleTimeout finishes audio that stopped arriving without AUDIO_END.
	AudioIdleTimeout time.Duration
	// PreAudioPromoteBytes promotes unclassified post-video bytes to audio.
	PreAudioPromoteBytes int
	// AudioExpected is false when the sender never transmits audio at all.
	AudioExpected bool
	// AcceptLegacyFrames keeps buffers without a valid header as untimestamped records.
	AcceptLegacyFrames bool
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		ResetGapMicros:       DefaultResetGapMicros,
		InactivityTimeout:    DefaultInactivityTimeout,
		AudioStartTimeout:    DefaultAudioStartTimeout,
		AudioIdleTimeout:     DefaultAudioIdleTimeout,
		PreAudioPromoteBytes: DefaultPreAudioPromoteBytes,
		AudioExpected:        true,
	}
}

// Validate checks the thresholds are usable.
func (c Config) Validate() error {
	if c.InactivityTimeout <= 0 {
		return fmt.Errorf("inactivity timeout must be positive, got %v", c.InactivityTimeout)
	}
	if c.AudioStartTimeout <= 0 {
		return fmt.Errorf("audio start timeout must be positive, got %v", c.AudioStartTimeout)
	}
	if c.AudioIdleTimeout <= 0 {
		return fmt.Errorf("audio idle timeout must be positive, got %v", c.AudioIdleTimeout)
	}
	if c.PreAudioPromoteBytes <= 0 {
		return fmt.Errorf("pre-audio promote threshold must be positive, got %d", c.PreAudioPromoteBytes)
	}
	return nil
}
