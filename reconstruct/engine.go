package reconstruct

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/media"
	"github.com/sirupsen/logrus"
)

// Config configures the reconstruction engine.
type Config struct {
	// OutputDir receives the video, audio and muxed files.
	OutputDir string
	Width     int
	Height    int
	// MinPayloadBytes skips payloads too small to be an image.
	MinPayloadBytes int
	// MuxAudio combines the audio into the final file when present.
	MuxAudio bool
	// PCM is the format assumed for audio without a WAV header.
	PCM        PCMFormat
	Plan       PlanConfig
	FFmpegPath string
	VideoCodec string
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		OutputDir:       ".",
		Width:           DefaultWidth,
		Height:          DefaultHeight,
		MinPayloadBytes: DefaultMinPayloadBytes,
		MuxAudio:        true,
		PCM:             DefaultPCMFormat(),
		Plan:            DefaultPlanConfig(),
		FFmpegPath:      "ffmpeg",
		VideoCodec:      DefaultVideoCodec,
	}
}

// Input is one finalized session.
type Input struct {
	SessionID string
	PatientID string
	Frames    []media.FrameRecord
	Audio     media.AudioBlob
}

// Artifact describes the files produced for a session.
type Artifact struct {
	// Path is the deliverable: the muxed file when muxing succeeded,
	// otherwise the silent video.
	Path      string
	VideoPath string
	// AudioPath is empty when the session had no audio.
	AudioPath string
	MuxedPath string
	Muxed     bool
	// MuxErr records a mux failure; the silent video is still delivered.
	MuxErr error

	Plan           Plan
	Audio          AudioInfo
	FramesWritten  int
	FillersWritten int
	Skipped        int
}

// TotalWritten is the number of frames in the video file.
func (a *Artifact) TotalWritten() int {
	return a.FramesWritten + a.FillersWritten
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to name artifacts.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithVideoWriterFactory replaces the ffmpeg video writer.
func WithVideoWriterFactory(f VideoWriterFactory) Option {
	return func(e *Engine) { e.newWriter = f }
}

// WithMuxer replaces the ffmpeg muxer. A nil muxer disables muxing.
func WithMuxer(m Muxer) Option {
	return func(e *Engine) { e.muxer = m }
}

// Engine reconstructs sessions into video files.
type Engine struct {
	cfg       Config
	clock     clock.Clock
	newWriter VideoWriterFactory
	muxer     Muxer
}

// NewEngine creates an engine. Unset sizes fall back to the defaults.
func NewEngine(cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.OutputDir == "" {
		cfg.OutputDir = def.OutputDir
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.MinPayloadBytes <= 0 {
		cfg.MinPayloadBytes = def.MinPayloadBytes
	}
	if cfg.PCM.ByteRate() <= 0 {
		cfg.PCM = def.PCM
	}

	e := &Engine{
		cfg:       cfg,
		clock:     clock.New(),
		newWriter: FFmpegWriterFactory(cfg.FFmpegPath, cfg.VideoCodec),
		muxer:     NewFFmpegMuxer(cfg.FFmpegPath),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconstruct writes the session's video and, when audio is present, its
// WAV file and muxed output. A mux failure is not an error: the artifact
// falls back to the silent video and carries MuxErr.
func (e *Engine) Reconstruct(ctx context.Context, in Input) (*Artifact, error) {
	if len(in.Frames) == 0 {
		return nil, ErrNoFrames
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	stamp := timestamp(e.clock.Now())
	patient := sanitizePatient(in.PatientID)
	art := &Artifact{
		VideoPath: filepath.Join(e.cfg.OutputDir, fmt.Sprintf("output_%s_%s.mp4", stamp, patient)),
	}

	if in.Audio.Usable() {
		info, err := ProbeAudio(in.Audio, e.cfg.PCM)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Reconstruct",
				"session_id": in.SessionID,
				"error":      err.Error(),
			}).Warn("Failed to read audio duration")
		}
		art.Audio = info
	}

	art.Plan = BuildPlan(in.Frames, art.Audio.Seconds(), e.cfg.Plan)
	if err := e.encode(ctx, in.SessionID, art); err != nil {
		return nil, err
	}
	art.Path = art.VideoPath

	logrus.WithFields(logrus.Fields{
		"function":     "Reconstruct",
		"session_id":   in.SessionID,
		"path":         art.VideoPath,
		"frames":       art.FramesWritten,
		"fillers":      art.FillersWritten,
		"skipped":      art.Skipped,
		"fps":          art.Plan.FPS,
		"span_seconds": art.Plan.CaptureSpanSeconds,
		"audio":        in.Audio.String(),
	}).Info("Video written")

	if in.Audio.Usable() {
		e.attachAudio(ctx, in, stamp, patient, art)
	}
	return art, nil
}

func (e *Engine) encode(ctx context.Context, sessionID string, art *Artifact) (err error) {
	plan := art.Plan
	spec := VideoSpec{Path: art.VideoPath, Width: e.cfg.Width, Height: e.cfg.Height, FPS: plan.FPS}

	var (
		writer VideoWriter
		last   *image.RGBA
	)
	defer func() {
		if writer == nil {
			return
		}
		if closeErr := writer.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to finalize video: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(art.VideoPath)
		}
	}()

	for i, rec := range plan.Frames {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		img, _, decErr := decodeImage(rec.Payload, e.cfg.MinPayloadBytes)
		if decErr != nil {
			art.Skipped++
			logrus.WithFields(logrus.Fields{
				"function":   "encode",
				"session_id": sessionID,
				"index":      i,
				"bytes":      len(rec.Payload),
				"error":      decErr.Error(),
			}).Warn("Skipping frame")
			continue
		}
		frame := normalize(img, e.cfg.Width, e.cfg.Height)

		if writer == nil {
			writer, err = e.newWriter(ctx, spec)
			if err != nil {
				writer = nil
				return fmt.Errorf("failed to open video writer: %w", err)
			}
		}

		if last != nil {
			for n := 0; n < plan.Fillers[i]; n++ {
				if err := writer.WriteFrame(last); err != nil {
					return fmt.Errorf("failed to write filler frame: %w", err)
				}
				art.FillersWritten++
			}
		}
		if err := writer.WriteFrame(frame); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
		art.FramesWritten++
		last = frame
	}

	if writer == nil {
		return ErrNoDecodableFrames
	}
	return nil
}

func (e *Engine) attachAudio(ctx context.Context, in Input, stamp, patient string, art *Artifact) {
	log := logrus.WithFields(logrus.Fields{
		"function":   "attachAudio",
		"session_id": in.SessionID,
	})

	audioPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("audio_%s_%s.wav", stamp, patient))
	if err := os.WriteFile(audioPath, EncodeWAV(in.Audio, e.cfg.PCM), 0o644); err != nil {
		log.WithError(err).Warn("Failed to persist audio, keeping silent video")
		return
	}
	art.AudioPath = audioPath

	if !e.cfg.MuxAudio || e.muxer == nil {
		return
	}

	muxedPath := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("output_%s_%s_with_audio.mp4", stamp, patient))
	if err := e.muxer.Mux(ctx, art.VideoPath, audioPath, muxedPath); err != nil {
		art.MuxErr = fmt.Errorf("%w: %w", ErrMuxFailed, err)
		log.WithError(err).Warn("Audio mux failed, keeping silent video")
		return
	}

	art.MuxedPath = muxedPath
	art.Muxed = true
	art.Path = muxedPath
	if err := os.Remove(art.VideoPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Debug("Failed to remove silent video")
	}
	log.WithField("path", muxedPath).Info("Audio muxed")
}

func timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Microsecond))
}

// sanitizePatient keeps patient identifiers safe to embed in a file name.
func sanitizePatient(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
