package reconstruct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// VideoWriter receives normalized frames in presentation order.
type VideoWriter interface {
	WriteFrame(img *image.RGBA) error
	// Close flushes and finalizes the file.
	Close() error
}

// VideoSpec describes the file a VideoWriter must produce.
type VideoSpec struct {
	Path   string
	Width  int
	Height int
	FPS    float64
}

// VideoWriterFactory opens a writer. The engine calls it lazily, on the
// first decodable frame.
type VideoWriterFactory func(ctx context.Context, spec VideoSpec) (VideoWriter, error)

// DefaultVideoCodec is an encoder every ffmpeg build ships.
const DefaultVideoCodec = "mpeg4"

// FFmpegWriterFactory returns a factory that pipes raw RGBA frames into an
// ffmpeg process.
func FFmpegWriterFactory(ffmpegPath, codec string) VideoWriterFactory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if codec == "" {
		codec = DefaultVideoCodec
	}
	return func(ctx context.Context, spec VideoSpec) (VideoWriter, error) {
		return startFFmpegWriter(ctx, ffmpegPath, codec, spec)
	}
}

type ffmpegWriter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	spec   VideoSpec
	frames int

	closeOnce sync.Once
	closeErr  error
}

func startFFmpegWriter(ctx context.Context, ffmpegPath, codec string, spec VideoSpec) (*ffmpegWriter, error) {
	args := []string{
		"-y", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		"-r", strconv.FormatFloat(spec.FPS, 'f', 3, 64),
		"-i", "-",
		"-an",
		"-c:v", codec,
		"-q:v", "3",
		"-pix_fmt", "yuv420p",
		spec.Path,
	}

	//nolint:gosec // G204: ffmpegPath is operator configuration
	cmd := exec.CommandContext(ctx, ffmpegPath, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return nil, ErrFFmpegNotFound
		}
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "startFFmpegWriter",
		"path":     spec.Path,
		"fps":      spec.FPS,
		"codec":    codec,
	}).Debug("Started video encoder")

	return &ffmpegWriter{cmd: cmd, stdin: stdin, stderr: stderr, spec: spec}, nil
}

func (w *ffmpegWriter) WriteFrame(img *image.RGBA) error {
	b := img.Bounds()
	if b.Dx() != w.spec.Width || b.Dy() != w.spec.Height {
		return fmt.Errorf("frame size %dx%d does not match %dx%d", b.Dx(), b.Dy(), w.spec.Width, w.spec.Height)
	}
	if _, err := w.stdin.Write(img.Pix); err != nil {
		return fmt.Errorf("%w: write frame %d: %v: %s", ErrFFmpegFailed, w.frames, err, w.stderr.String())
	}
	w.frames++
	return nil
}

func (w *ffmpegWriter) Close() error {
	w.closeOnce.Do(func() {
		if err := w.stdin.Close(); err != nil {
			w.closeErr = fmt.Errorf("failed to close ffmpeg stdin: %w", err)
		}
		if err := w.cmd.Wait(); err != nil {
			w.closeErr = fmt.Errorf("%w: %v: %s", ErrFFmpegFailed, err, w.stderr.String())
		}
	})
	return w.closeErr
}
