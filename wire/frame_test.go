package wire

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_HeaderLayout(t *testing.T) {
	payload := []byte("jpeg-bytes")
	buf, err := EncodeFrame(media.FramePacket{CaptureTimestampMicros: 0x0102030405060708, Payload: payload})
	require.NoError(t, err)

	require.Len(t, buf, limits.FrameHeaderSize+len(payload))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, buf[0:8])
	assert.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(buf[8:12]))
	assert.Equal(t, payload, buf[12:])
}

func TestEncodeFrame_Rejects(t *testing.T) {
	_, err := EncodeFrame(media.FramePacket{CaptureTimestampMicros: 1})
	assert.ErrorIs(t, err, limits.ErrPayloadEmpty)

	_, err = EncodeFrame(media.FramePacket{CaptureTimestampMicros: limits.MaxTimestampMicros, Payload: []byte{1}})
	assert.ErrorIs(t, err, limits.ErrTimestampOutOfRange)
}

func TestDecodeFrame(t *testing.T) {
	header := func(ts uint64, n uint32) []byte {
		h := make([]byte, limits.FrameHeaderSize)
		binary.BigEndian.PutUint64(h[0:8], ts)
		binary.BigEndian.PutUint32(h[8:12], n)
		return h
	}

	tests := []struct {
		name    string
		buf     []byte
		wantErr error
	}{
		{"valid", append(header(100000, 3), 'a', 'b', 'c'), nil},
		{"short header", []byte{1, 2, 3}, ErrShortHeader},
		{"truncated payload", append(header(1, 5), 'a', 'b'), ErrLengthMismatch},
		{"extra payload", append(header(1, 1), 'a', 'b'), ErrLengthMismatch},
		{"zero length", header(1, 0), limits.ErrPayloadEmpty},
		{"oversized length", header(1, limits.MaxFramePayload+1), limits.ErrPayloadTooLarge},
		{"timestamp out of range", append(header(limits.MaxTimestampMicros, 1), 'a'), limits.ErrTimestampOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := DecodeFrame(tt.buf)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, uint64(100000), pkt.CaptureTimestampMicros)
			assert.Equal(t, []byte("abc"), pkt.Payload)
		})
	}
}

func TestSplit(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 3001)

	fragments := Split(data, limits.MaxVideoFragment)
	require.Len(t, fragments, 3)
	assert.Len(t, fragments[0], 1400)
	assert.Len(t, fragments[1], 1400)
	assert.Len(t, fragments[2], 201)
	assert.Equal(t, data, bytes.Join(fragments, nil))

	assert.Nil(t, Split(nil, 10))
	assert.Nil(t, Split(data, 0))
	assert.Len(t, Split(data[:10], 10), 1)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in   []byte
		want Kind
	}{
		{[]byte("END"), KindFrameEnd},
		{[]byte("AUDIO_START"), KindAudioStart},
		{[]byte("AUDIO_END"), KindAudioEnd},
		{[]byte("AUDIO_NONE"), KindAudioNone},
		{[]byte("ENDX"), KindData},
		{[]byte("end"), KindData},
		{[]byte{}, KindData},
		{bytes.Repeat([]byte{1}, 1400), KindData},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.in), "classify %q", tt.in)
	}
	assert.True(t, KindAudioEnd.IsMarker())
	assert.False(t, KindData.IsMarker())
	assert.Equal(t, "AUDIO_NONE", KindAudioNone.String())
}
