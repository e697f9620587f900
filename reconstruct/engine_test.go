package reconstruct

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriters records every frame by the red channel of its first pixel.
type fakeWriters struct {
	mu     sync.Mutex
	specs  []VideoSpec
	reds   []uint8
	closed int
}

func (f *fakeWriters) factory(_ context.Context, spec VideoSpec) (VideoWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if err := os.WriteFile(spec.Path, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	return &fakeWriter{parent: f}, nil
}

type fakeWriter struct {
	parent *fakeWriters
}

func (w *fakeWriter) WriteFrame(img *image.RGBA) error {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	w.parent.reds = append(w.parent.reds, img.Pix[0])
	return nil
}

func (w *fakeWriter) Close() error {
	w.parent.mu.Lock()
	defer w.parent.mu.Unlock()
	w.parent.closed++
	return nil
}

type fakeMuxer struct {
	calls int
	err   error
}

func (m *fakeMuxer) Mux(_ context.Context, videoPath, audioPath, outPath string) error {
	m.calls++
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outPath, []byte("muxed"), 0o644)
}

func pngFrame(t *testing.T, red uint8) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = red, 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 640, 480))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type engineFixture struct {
	dir     string
	writers *fakeWriters
	muxer   *fakeMuxer
	engine  *Engine
}

func newEngineFixture(t *testing.T, mutate func(*Config)) *engineFixture {
	t.Helper()
	f := &engineFixture{
		dir:     t.TempDir(),
		writers: &fakeWriters{},
		muxer:   &fakeMuxer{},
	}
	cfg := DefaultConfig()
	cfg.OutputDir = f.dir
	if mutate != nil {
		mutate(&cfg)
	}

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 14, 9, 5, 7, 123456000, time.Local))

	f.engine = NewEngine(cfg,
		WithClock(mock),
		WithVideoWriterFactory(f.writers.factory),
		WithMuxer(f.muxer))
	return f
}

func (f *engineFixture) files(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func framesAt(t *testing.T, ts ...uint64) []media.FrameRecord {
	recs := make([]media.FrameRecord, 0, len(ts))
	for i, v := range ts {
		recs = append(recs, media.NewTimedRecord(v, 0, i, pngFrame(t, uint8(10*(i+1)))))
	}
	return recs
}

func TestReconstruct_NoFrames(t *testing.T) {
	f := newEngineFixture(t, nil)
	_, err := f.engine.Reconstruct(context.Background(), Input{PatientID: "1"})
	assert.ErrorIs(t, err, ErrNoFrames)
}

func TestReconstruct_FiveFramesNoAudio(t *testing.T) {
	f := newEngineFixture(t, nil)
	art, err := f.engine.Reconstruct(context.Background(), Input{
		SessionID: "s1",
		PatientID: "17",
		Frames:    framesAt(t, 0, T, 2*T, 3*T, 4*T),
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(f.dir, "output_20260314_090507_123456_17.mp4"), art.Path)
	assert.Equal(t, art.VideoPath, art.Path)
	assert.Empty(t, art.AudioPath)
	assert.False(t, art.Muxed)
	assert.Equal(t, 5, art.FramesWritten)
	assert.Equal(t, 0, art.FillersWritten)

	require.Len(t, f.writers.specs, 1)
	spec := f.writers.specs[0]
	assert.InDelta(t, 12.5, spec.FPS, 1e-9)
	assert.Equal(t, DefaultWidth, spec.Width)
	assert.Equal(t, DefaultHeight, spec.Height)
	assert.Equal(t, []uint8{10, 20, 30, 40, 50}, f.writers.reds)
	assert.Equal(t, 1, f.writers.closed)
	assert.Equal(t, 0, f.muxer.calls)
}

func TestReconstruct_WritesFillersBeforeFrame(t *testing.T) {
	f := newEngineFixture(t, nil)
	art, err := f.engine.Reconstruct(context.Background(), Input{
		PatientID: "1",
		Frames:    framesAt(t, 0, T, 2*T, 3*T, 5*T),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, art.FillersWritten)
	assert.Equal(t, 6, art.TotalWritten())
	assert.Equal(t, []uint8{10, 20, 30, 40, 40, 50}, f.writers.reds)
}

func TestReconstruct_SkipsUndecodableFrames(t *testing.T) {
	f := newEngineFixture(t, nil)
	frames := framesAt(t, 0, T, 2*T, 3*T)
	frames[1].Payload = []byte("short")
	frames[2].Payload = bytes.Repeat([]byte("not an image"), 4)

	art, err := f.engine.Reconstruct(context.Background(), Input{PatientID: "1", Frames: frames})
	require.NoError(t, err)

	assert.Equal(t, 2, art.Skipped)
	assert.Equal(t, 2, art.FramesWritten)
	assert.Equal(t, []uint8{10, 40}, f.writers.reds)
}

func TestReconstruct_NoDecodableFrames(t *testing.T) {
	f := newEngineFixture(t, nil)
	frames := framesAt(t, 0, T)
	frames[0].Payload = nil
	frames[1].Payload = bytes.Repeat([]byte{0xFF}, 64)

	_, err := f.engine.Reconstruct(context.Background(), Input{PatientID: "1", Frames: frames})
	assert.ErrorIs(t, err, ErrNoDecodableFrames)
	assert.Empty(t, f.writers.specs)
	assert.Empty(t, f.files(t))
}

func TestReconstruct_NormalizesSize(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) {
		c.Width, c.Height = 64, 48
	})
	frames := []media.FrameRecord{
		media.NewTimedRecord(0, 0, 0, jpegFrame(t)),
		media.NewTimedRecord(T, 0, 1, pngFrame(t, 200)),
	}
	art, err := f.engine.Reconstruct(context.Background(), Input{PatientID: "1", Frames: frames})
	require.NoError(t, err)
	assert.Equal(t, 2, art.FramesWritten)
	assert.Equal(t, 64, f.writers.specs[0].Width)
	assert.Equal(t, uint8(200), f.writers.reds[1])
}

func TestReconstruct_AudioDrivesDurationAndMuxes(t *testing.T) {
	f := newEngineFixture(t, nil)
	wav := WrapPCMAsWAV(make([]byte, 16000*10), 8000, 1, 16)

	art, err := f.engine.Reconstruct(context.Background(), Input{
		PatientID: "9",
		Frames:    framesAt(t, 0, T, 2*T, 3*T, 4*T),
		Audio:     media.NewAudioBlob(wav),
	})
	require.NoError(t, err)

	assert.Equal(t, 10.0, art.Plan.TargetDurationSeconds)
	assert.InDelta(t, 1.0, art.Plan.FPS, 1e-9)
	assert.True(t, art.Muxed)
	assert.NoError(t, art.MuxErr)
	assert.Equal(t, art.MuxedPath, art.Path)
	assert.Equal(t, 1, f.muxer.calls)

	assert.ElementsMatch(t, []string{
		"audio_20260314_090507_123456_9.wav",
		"output_20260314_090507_123456_9_with_audio.mp4",
	}, f.files(t))

	saved, err := os.ReadFile(art.AudioPath)
	require.NoError(t, err)
	assert.Equal(t, wav, saved)
}

func TestReconstruct_MuxFailureKeepsVideo(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.muxer.err = ErrFFmpegNotFound

	art, err := f.engine.Reconstruct(context.Background(), Input{
		PatientID: "3",
		Frames:    framesAt(t, 0, T),
		Audio:     media.NewAudioBlob(make([]byte, 1600)),
	})
	require.NoError(t, err)

	assert.False(t, art.Muxed)
	assert.ErrorIs(t, art.MuxErr, ErrMuxFailed)
	assert.ErrorIs(t, art.MuxErr, ErrFFmpegNotFound)
	assert.Equal(t, art.VideoPath, art.Path)
	assert.FileExists(t, art.VideoPath)

	saved, err := os.ReadFile(art.AudioPath)
	require.NoError(t, err)
	assert.True(t, isRIFF(saved))
}

func TestReconstruct_MuxDisabled(t *testing.T) {
	f := newEngineFixture(t, func(c *Config) { c.MuxAudio = false })

	art, err := f.engine.Reconstruct(context.Background(), Input{
		PatientID: "3",
		Frames:    framesAt(t, 0, T),
		Audio:     media.NewAudioBlob(make([]byte, 1600)),
	})
	require.NoError(t, err)

	assert.Equal(t, 0, f.muxer.calls)
	assert.Equal(t, art.VideoPath, art.Path)
	assert.FileExists(t, art.AudioPath)
}

func TestReconstruct_WriterOpenFailure(t *testing.T) {
	f := newEngineFixture(t, nil)
	f.engine.newWriter = func(context.Context, VideoSpec) (VideoWriter, error) {
		return nil, ErrFFmpegNotFound
	}
	_, err := f.engine.Reconstruct(context.Background(), Input{PatientID: "1", Frames: framesAt(t, 0)})
	assert.ErrorIs(t, err, ErrFFmpegNotFound)
}

func TestReconstruct_Cancelled(t *testing.T) {
	f := newEngineFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Reconstruct(ctx, Input{PatientID: "1", Frames: framesAt(t, 0, T)})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSanitizePatient(t *testing.T) {
	assert.Equal(t, "unknown", sanitizePatient("  "))
	assert.Equal(t, "17", sanitizePatient("17"))
	assert.Equal(t, "___etc_passwd", sanitizePatient("../etc/passwd"))
	assert.Equal(t, "a-b_c", sanitizePatient("a-b_c"))
}

func TestNormalize(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+3] = 0xFF, 0xFF
	}
	dst := normalize(src, 20, 16)
	assert.Equal(t, image.Rect(0, 0, 20, 16), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 0xFF, A: 0xFF}, dst.RGBAAt(10, 8))
}
