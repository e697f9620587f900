// Package chunker implements the sender side of the pepperlink datagram
// protocol: it splits encoded frames and the captured audio blob into
// MTU-sized datagrams delimited by literal marker tokens.
//
// No acknowledgement is expected. The receiver validates every reassembled
// frame and compensates for lost markers, so the chunker is stateless across
// frames.
package chunker

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/wire"
	"github.com/sirupsen/logrus"
)

// Default pacing values.
const (
	DefaultPacketDelay = 500 * time.Microsecond
	DefaultSettleDelay = 20 * time.Millisecond
)

// Config controls fragment sizes and pacing.
type Config struct {
	// VideoFragmentSize bounds datagrams carrying frame bytes.
	VideoFragmentSize int
	// AudioFragmentSize bounds datagrams carrying audio bytes.
	AudioFragmentSize int
	// PacketDelay is slept after every datagram. Zero disables pacing.
	PacketDelay time.Duration
	// SettleDelay is slept after the audio start markers so the receiver
	// can switch into audio mode before data arrives.
	SettleDelay time.Duration
	// MarkerRepeat is how many copies of each audio marker are sent.
	MarkerRepeat int
}

// DefaultConfig returns the protocol defaults.
func DefaultConfig() Config {
	return Config{
		VideoFragmentSize: limits.MaxVideoFragment,
		AudioFragmentSize: limits.MaxAudioFragment,
		PacketDelay:       DefaultPacketDelay,
		SettleDelay:       DefaultSettleDelay,
		MarkerRepeat:      wire.MarkerRepeat,
	}
}

// Stats counts what the chunker has emitted.
type Stats struct {
	FramesSent    uint64
	FragmentsSent uint64
	BytesSent     uint64
	AudioSent     uint64
}

// Chunker emits frames and audio over a datagram writer.
// Each Write call on the writer must send exactly one datagram.
type Chunker struct {
	out   io.Writer
	cfg   Config
	clock clock.Clock

	framesSent    atomic.Uint64
	fragmentsSent atomic.Uint64
	bytesSent     atomic.Uint64
	audioSent     atomic.Uint64
}

// New creates a chunker. A nil clock uses the wall clock.
func New(out io.Writer, cfg Config, clk clock.Clock) (*Chunker, error) {
	if out == nil {
		return nil, fmt.Errorf("datagram writer cannot be nil")
	}
	if cfg.VideoFragmentSize <= limits.FrameHeaderSize || cfg.VideoFragmentSize > limits.MaxVideoFragment {
		return nil, fmt.Errorf("invalid video fragment size: %d (must be %d-%d)",
			cfg.VideoFragmentSize, limits.FrameHeaderSize+1, limits.MaxVideoFragment)
	}
	if cfg.AudioFragmentSize <= 0 || cfg.AudioFragmentSize > limits.MaxVideoFragment {
		return nil, fmt.Errorf("invalid audio fragment size: %d", cfg.AudioFragmentSize)
	}
	if cfg.MarkerRepeat <= 0 {
		cfg.MarkerRepeat = 1
	}
	if clk == nil {
		clk = clock.New()
	}

	logrus.WithFields(logrus.Fields{
		"function":      "chunker.New",
		"video_mtu":     cfg.VideoFragmentSize,
		"audio_mtu":     cfg.AudioFragmentSize,
		"packet_delay":  cfg.PacketDelay,
		"marker_repeat": cfg.MarkerRepeat,
	}).Debug("Chunker created")

	return &Chunker{out: out, cfg: cfg, clock: clk}, nil
}

// SendFrame serializes the frame, emits its fragments and terminates them
// with a standalone END datagram.
func (c *Chunker) SendFrame(ctx context.Context, frame media.FramePacket) error {
	encoded, err := wire.EncodeFrame(frame)
	if err != nil {
		return err
	}

	fragments := wire.Split(encoded, c.cfg.VideoFragmentSize)
	for _, fragment := range fragments {
		if err := c.emit(ctx, fragment); err != nil {
			return fmt.Errorf("send frame fragment: %w", err)
		}
	}
	if err := c.emit(ctx, wire.MarkerFrameEnd); err != nil {
		return fmt.Errorf("send frame end: %w", err)
	}

	c.framesSent.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":  "Chunker.SendFrame",
		"timestamp": frame.CaptureTimestampMicros,
		"bytes":     len(encoded),
		"fragments": len(fragments),
	}).Debug("Frame sent")

	return nil
}

// SendAudio emits the audio blob between repeated start and end markers.
// An absent or empty blob is announced with repeated AUDIO_NONE markers.
func (c *Chunker) SendAudio(ctx context.Context, audio media.AudioBlob) error {
	if !audio.Usable() {
		logrus.WithFields(logrus.Fields{
			"function": "Chunker.SendAudio",
			"audio":    audio.String(),
		}).Info("No audio captured, announcing AUDIO_NONE")
		return c.emitMarker(ctx, wire.MarkerAudioNone)
	}

	if err := c.emitMarker(ctx, wire.MarkerAudioStart); err != nil {
		return fmt.Errorf("send audio start: %w", err)
	}
	if err := c.sleep(ctx, c.cfg.SettleDelay); err != nil {
		return err
	}

	fragments := wire.Split(audio.Bytes(), c.cfg.AudioFragmentSize)
	for _, fragment := range fragments {
		if err := c.emit(ctx, fragment); err != nil {
			return fmt.Errorf("send audio fragment: %w", err)
		}
	}

	if err := c.emitMarker(ctx, wire.MarkerAudioEnd); err != nil {
		return fmt.Errorf("send audio end: %w", err)
	}

	c.audioSent.Add(1)

	logrus.WithFields(logrus.Fields{
		"function":  "Chunker.SendAudio",
		"bytes":     audio.Len(),
		"fragments": len(fragments),
	}).Info("Audio sent over datagram channel")

	return nil
}

// Stats returns a snapshot of the emission counters.
func (c *Chunker) Stats() Stats {
	return Stats{
		FramesSent:    c.framesSent.Load(),
		FragmentsSent: c.fragmentsSent.Load(),
		BytesSent:     c.bytesSent.Load(),
		AudioSent:     c.audioSent.Load(),
	}
}

// emitMarker sends MarkerRepeat copies of a marker.
func (c *Chunker) emitMarker(ctx context.Context, marker []byte) error {
	for i := 0; i < c.cfg.MarkerRepeat; i++ {
		if err := c.emit(ctx, marker); err != nil {
			return err
		}
	}
	return nil
}

// emit writes one datagram and applies the inter-packet delay.
func (c *Chunker) emit(ctx context.Context, datagram []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.out.Write(datagram); err != nil {
		return err
	}
	c.fragmentsSent.Add(1)
	c.bytesSent.Add(uint64(len(datagram)))
	return c.sleep(ctx, c.cfg.PacketDelay)
}

// sleep waits d on the injected clock unless the context ends first.
func (c *Chunker) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := c.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
