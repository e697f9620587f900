// Package limits provides centralized size limits for the pepperlink protocol.
// This ensures consistent validation across the chunker and the reassembler.
package limits

import (
	"errors"
	"fmt"
)

const (
	// FrameHeaderSize is the serialized frame header: 8-byte timestamp + 4-byte length.
	FrameHeaderSize = 12

	// MaxVideoFragment is the largest datagram carrying frame bytes.
	MaxVideoFragment = 1400

	// MaxAudioFragment is the largest datagram carrying audio bytes.
	MaxAudioFragment = 1200

	// MaxFramePayload is the largest payload a frame header may declare (3 MiB).
	MaxFramePayload = 3 * 1024 * 1024

	// MaxTimestampMicros is the exclusive upper bound for capture timestamps.
	MaxTimestampMicros uint64 = 1_000_000_000_000_000

	// MaxDatagram is the receive buffer size. Larger than any fragment the
	// sender produces so a misconfigured peer is detected instead of truncated.
	MaxDatagram = 65535

	// MaxControlLine bounds a single control-channel line.
	MaxControlLine = 4096

	// MaxAudioBlob bounds audio accepted over the reliable channel (64 MiB).
	MaxAudioBlob = 64 * 1024 * 1024
)

var (
	// ErrPayloadEmpty indicates an empty frame payload was provided
	ErrPayloadEmpty = errors.New("empty payload")

	// ErrPayloadTooLarge indicates a payload exceeds the maximum size
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrTimestampOutOfRange indicates a capture timestamp outside [0, MaxTimestampMicros)
	ErrTimestampOutOfRange = errors.New("timestamp out of range")
)

// ValidateSize validates a payload against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(size, maxSize int) error {
	if size <= 0 {
		return ErrPayloadEmpty
	}
	if size > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrPayloadTooLarge, size, maxSize)
	}
	return nil
}

// ValidateFramePayload validates an encoded image against MaxFramePayload.
func ValidateFramePayload(payload []byte) error {
	return ValidateFrameLength(len(payload))
}

// ValidateFrameLength validates a declared payload length, which must lie in (0, MaxFramePayload].
func ValidateFrameLength(length int) error {
	if length <= 0 {
		return ErrPayloadEmpty
	}
	if length > MaxFramePayload {
		return fmt.Errorf("%w: frame length %d exceeds limit %d", ErrPayloadTooLarge, length, MaxFramePayload)
	}
	return nil
}

// ValidateTimestamp validates a capture timestamp against MaxTimestampMicros.
func ValidateTimestamp(ts uint64) error {
	if ts >= MaxTimestampMicros {
		return fmt.Errorf("%w: %d >= %d", ErrTimestampOutOfRange, ts, MaxTimestampMicros)
	}
	return nil
}

// ValidateAudioBlob validates audio received over the reliable channel.
// Zero is allowed: an empty blob is announced as AUDIO_LEN:0.
func ValidateAudioBlob(size int) error {
	if size < 0 {
		return fmt.Errorf("%w: negative audio length %d", ErrPayloadTooLarge, size)
	}
	if size > MaxAudioBlob {
		return fmt.Errorf("%w: audio size %d exceeds limit %d", ErrPayloadTooLarge, size, MaxAudioBlob)
	}
	return nil
}
