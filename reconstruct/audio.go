package reconstruct

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/opd-ai/pepperlink/media"
)

const wavHeaderSize = 44

// PCMFormat describes raw PCM audio that arrives without a WAV header.
type PCMFormat struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// DefaultPCMFormat is the robot microphone capture format: mono 16-bit at 48 kHz.
func DefaultPCMFormat() PCMFormat {
	return PCMFormat{SampleRate: 48000, Channels: 1, BitsPerSample: 16}
}

// ByteRate returns the number of bytes per second of audio.
func (f PCMFormat) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

func (f PCMFormat) blockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// AudioInfo is the result of probing an audio blob.
type AudioInfo struct {
	Format   PCMFormat
	Duration time.Duration
	// WAV is true when the blob carried its own RIFF header.
	WAV bool
	// DataSize is the number of PCM bytes.
	DataSize int
}

// Seconds returns the duration in seconds.
func (i AudioInfo) Seconds() float64 {
	return i.Duration.Seconds()
}

// ProbeAudio determines the format and duration of an audio blob. Blobs
// that do not start with a RIFF header are treated as raw PCM in the given
// fallback format.
func ProbeAudio(audio media.AudioBlob, fallback PCMFormat) (AudioInfo, error) {
	if !audio.Usable() {
		return AudioInfo{}, nil
	}
	data := audio.Bytes()
	if isRIFF(data) {
		return parseWAV(data)
	}
	if fallback.ByteRate() <= 0 {
		return AudioInfo{}, fmt.Errorf("invalid pcm format %+v", fallback)
	}
	usable := len(data) - len(data)%max(fallback.blockAlign(), 1)
	return AudioInfo{
		Format:   fallback,
		DataSize: usable,
		Duration: bytesToDuration(usable, fallback.ByteRate()),
	}, nil
}

// EncodeWAV returns the blob as a WAV file, wrapping raw PCM when needed.
func EncodeWAV(audio media.AudioBlob, fallback PCMFormat) []byte {
	data := audio.Bytes()
	if isRIFF(data) {
		return data
	}
	return WrapPCMAsWAV(data, fallback.SampleRate, fallback.Channels, fallback.BitsPerSample)
}

// WrapPCMAsWAV wraps raw little-endian PCM in a canonical 44-byte WAV header.
func WrapPCMAsWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	dataSize := len(pcm)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	wav := make([]byte, wavHeaderSize+dataSize)

	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+dataSize))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], uint16(bitsPerSample))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(dataSize))
	copy(wav[44:], pcm)

	return wav
}

func isRIFF(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// parseWAV walks the RIFF chunks looking for "fmt " and "data". A data
// chunk that claims more bytes than present is clamped, which happens when
// a recorder is stopped before it rewrites the header.
func parseWAV(data []byte) (AudioInfo, error) {
	var (
		info    AudioInfo
		haveFmt bool
	)
	info.WAV = true

	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return AudioInfo{}, fmt.Errorf("%w: short fmt chunk", ErrBadWAV)
			}
			info.Format = PCMFormat{
				Channels:      int(binary.LittleEndian.Uint16(data[body+2 : body+4])),
				SampleRate:    int(binary.LittleEndian.Uint32(data[body+4 : body+8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(data[body+14 : body+16])),
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return AudioInfo{}, fmt.Errorf("%w: data before fmt", ErrBadWAV)
			}
			if size < 0 || body+size > len(data) {
				size = len(data) - body
			}
			if align := info.Format.blockAlign(); align > 0 {
				size -= size % align
			}
			if info.Format.ByteRate() <= 0 {
				return AudioInfo{}, fmt.Errorf("%w: zero byte rate", ErrBadWAV)
			}
			info.DataSize = size
			info.Duration = bytesToDuration(size, info.Format.ByteRate())
			return info, nil
		}

		// Chunks are word aligned.
		offset = body + size + size%2
		if offset < body {
			break
		}
	}
	return AudioInfo{}, fmt.Errorf("%w: no data chunk", ErrBadWAV)
}

func bytesToDuration(n, byteRate int) time.Duration {
	return time.Duration(float64(n) / float64(byteRate) * float64(time.Second))
}
