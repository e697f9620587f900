package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
)

var (
	// ErrShortHeader indicates a buffer too small to hold a frame header.
	ErrShortHeader = errors.New("buffer shorter than frame header")

	// ErrLengthMismatch indicates the buffered payload length differs from the declared length.
	ErrLengthMismatch = errors.New("payload length does not match header")
)

// EncodeFrame serializes a frame packet as header + payload.
func EncodeFrame(p media.FramePacket) ([]byte, error) {
	if err := limits.ValidateFramePayload(p.Payload); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if err := limits.ValidateTimestamp(p.CaptureTimestampMicros); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	buf := make([]byte, limits.FrameHeaderSize+len(p.Payload))
	binary.BigEndian.PutUint64(buf[0:8], p.CaptureTimestampMicros)
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.Payload)))
	copy(buf[limits.FrameHeaderSize:], p.Payload)
	return buf, nil
}

// DecodeFrame parses a reassembled buffer back into a frame packet.
//
// The buffer must hold exactly the declared payload; the declared length
// must lie in (0, MaxFramePayload] and the timestamp in [0, MaxTimestampMicros).
// The returned payload aliases buf.
func DecodeFrame(buf []byte) (media.FramePacket, error) {
	if len(buf) < limits.FrameHeaderSize {
		return media.FramePacket{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(buf))
	}

	ts := binary.BigEndian.Uint64(buf[0:8])
	declared := int(binary.BigEndian.Uint32(buf[8:12]))

	if err := limits.ValidateFrameLength(declared); err != nil {
		return media.FramePacket{}, fmt.Errorf("decode frame: %w", err)
	}
	if err := limits.ValidateTimestamp(ts); err != nil {
		return media.FramePacket{}, fmt.Errorf("decode frame: %w", err)
	}

	payload := buf[limits.FrameHeaderSize:]
	if len(payload) != declared {
		return media.FramePacket{}, fmt.Errorf("%w: have %d, declared %d", ErrLengthMismatch, len(payload), declared)
	}

	return media.FramePacket{CaptureTimestampMicros: ts, Payload: payload}, nil
}

// Split slices data into consecutive fragments of at most size bytes.
// The fragments alias data.
func Split(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}

	count := (len(data) + size - 1) / size
	fragments := make([][]byte, 0, count)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		fragments = append(fragments, data[start:end])
	}
	return fragments
}
