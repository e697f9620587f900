package limits

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFragmentSizesFitEthernetMTU(t *testing.T) {
	// 20 byte IPv4 header + 8 byte UDP header
	assert.LessOrEqual(t, MaxVideoFragment+28, 1500)
	assert.Less(t, MaxAudioFragment, MaxVideoFragment)
	assert.Greater(t, MaxVideoFragment, FrameHeaderSize)
}

func TestValidateFrameLength(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		wantErr error
	}{
		{"zero", 0, ErrPayloadEmpty},
		{"negative", -1, ErrPayloadEmpty},
		{"one byte", 1, nil},
		{"at limit", MaxFramePayload, nil},
		{"over limit", MaxFramePayload + 1, ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFrameLength(tt.length)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidateFramePayload(t *testing.T) {
	assert.ErrorIs(t, ValidateFramePayload(nil), ErrPayloadEmpty)
	assert.NoError(t, ValidateFramePayload([]byte{0xff, 0xd8}))
}

func TestValidateTimestamp(t *testing.T) {
	assert.NoError(t, ValidateTimestamp(0))
	assert.NoError(t, ValidateTimestamp(MaxTimestampMicros-1))
	assert.ErrorIs(t, ValidateTimestamp(MaxTimestampMicros), ErrTimestampOutOfRange)
	assert.ErrorIs(t, ValidateTimestamp(^uint64(0)), ErrTimestampOutOfRange)
}

func TestValidateSize(t *testing.T) {
	assert.ErrorIs(t, ValidateSize(0, 10), ErrPayloadEmpty)
	assert.NoError(t, ValidateSize(10, 10))
	err := ValidateSize(11, 10)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Contains(t, err.Error(), "size 11 exceeds limit 10")
}

func TestValidateAudioBlob(t *testing.T) {
	assert.NoError(t, ValidateAudioBlob(0))
	assert.NoError(t, ValidateAudioBlob(MaxAudioBlob))
	assert.ErrorIs(t, ValidateAudioBlob(MaxAudioBlob+1), ErrPayloadTooLarge)
	assert.ErrorIs(t, ValidateAudioBlob(-5), ErrPayloadTooLarge)
}
