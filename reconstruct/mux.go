package reconstruct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultMuxTimeout bounds a single mux run.
const DefaultMuxTimeout = 2 * time.Minute

// Muxer combines a video file and an audio file into one container.
type Muxer interface {
	Mux(ctx context.Context, videoPath, audioPath, outPath string) error
}

// FFmpegMuxer muxes with the ffmpeg binary, copying the video stream and
// encoding the audio as AAC.
type FFmpegMuxer struct {
	Path    string
	Timeout time.Duration
}

// NewFFmpegMuxer creates a muxer for the given ffmpeg binary.
func NewFFmpegMuxer(path string) *FFmpegMuxer {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegMuxer{Path: path, Timeout: DefaultMuxTimeout}
}

// MuxArgs returns the ffmpeg arguments used to mux.
func MuxArgs(videoPath, audioPath, outPath string) []string {
	return []string{
		"-y",
		"-loglevel", "error",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "128k",
		"-shortest",
		outPath,
	}
}

// Mux runs ffmpeg and classifies its failure.
func (m *FFmpegMuxer) Mux(ctx context.Context, videoPath, audioPath, outPath string) error {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultMuxTimeout
	}
	muxCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: Path is operator configuration
	cmd := exec.CommandContext(muxCtx, m.Path, MuxArgs(videoPath, audioPath, outPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(muxCtx.Err(), context.DeadlineExceeded) {
			return ErrFFmpegTimeout
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) && errors.Is(execErr.Err, exec.ErrNotFound) {
			return ErrFFmpegNotFound
		}
		return fmt.Errorf("%w: %s", ErrFFmpegFailed, stderr.String())
	}
	return nil
}
