package sim

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/sirupsen/logrus"
)

// MicrophoneConfig configures the tone microphone.
type MicrophoneConfig struct {
	SampleRate int
	Frequency  float64
	// Volume is the tone amplitude in (0, 1].
	Volume float64
}

// DefaultMicrophoneConfig returns a 48 kHz mono 440 Hz tone.
func DefaultMicrophoneConfig() MicrophoneConfig {
	return MicrophoneConfig{SampleRate: 48000, Frequency: 440, Volume: 0.1}
}

// ErrNotRecording indicates Stop was called before Start.
var ErrNotRecording = errors.New("sim: microphone not recording")

// Microphone records a sine tone for as long as it runs and returns it as
// 16-bit mono WAV.
type Microphone struct {
	cfg   MicrophoneConfig
	clock clock.Clock

	mu      sync.Mutex
	started time.Time
	running bool
}

// NewMicrophone creates a microphone. A nil clock uses the wall clock.
func NewMicrophone(cfg MicrophoneConfig, clk clock.Clock) *Microphone {
	def := DefaultMicrophoneConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = def.Frequency
	}
	if cfg.Volume <= 0 || cfg.Volume > 1 {
		cfg.Volume = def.Volume
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Microphone{cfg: cfg, clock: clk}
}

// Start begins recording.
func (m *Microphone) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrAlreadyRunning
	}
	m.running = true
	m.started = m.clock.Now()
	return nil
}

// Stop ends recording and returns the tone covering the elapsed time.
func (m *Microphone) Stop() (media.AudioBlob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return media.NoAudio(), ErrNotRecording
	}
	m.running = false

	elapsed := m.clock.Since(m.started)
	samples := int(elapsed.Seconds() * float64(m.cfg.SampleRate))
	if maxSamples := (limits.MaxAudioBlob - 44) / 2; samples > maxSamples {
		samples = maxSamples
	}

	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		t := float64(i) / float64(m.cfg.SampleRate)
		v := int16(m.cfg.Volume * 32767 * math.Sin(2*math.Pi*m.cfg.Frequency*t))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}

	logrus.WithFields(logrus.Fields{
		"function": "Microphone.Stop",
		"elapsed":  elapsed.String(),
		"samples":  samples,
	}).Info("Tone recording finished")

	return media.NewAudioBlob(reconstruct.WrapPCMAsWAV(pcm, m.cfg.SampleRate, 1, 16)), nil
}
