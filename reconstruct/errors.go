package reconstruct

import "errors"

var (
	// ErrNoFrames indicates a session finalized without any frame record.
	ErrNoFrames = errors.New("no frames to reconstruct")

	// ErrNoDecodableFrames indicates every record failed to decode.
	ErrNoDecodableFrames = errors.New("no decodable frames")

	// ErrMuxFailed indicates the audio could not be muxed into the video.
	ErrMuxFailed = errors.New("audio mux failed")

	// ErrFFmpegNotFound indicates the ffmpeg binary is not installed.
	ErrFFmpegNotFound = errors.New("ffmpeg not found")

	// ErrFFmpegTimeout indicates ffmpeg did not finish in time.
	ErrFFmpegTimeout = errors.New("ffmpeg timed out")

	// ErrFFmpegFailed indicates ffmpeg exited with an error.
	ErrFFmpegFailed = errors.New("ffmpeg failed")

	// ErrBadWAV indicates a RIFF buffer without usable fmt and data chunks.
	ErrBadWAV = errors.New("malformed wav")
)
