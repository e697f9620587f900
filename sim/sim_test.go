package sim

import (
	"bytes"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameSink struct {
	mu     sync.Mutex
	frames []media.FramePacket
}

func (s *frameSink) emit(p media.FramePacket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, p)
}

func (s *frameSink) all() []media.FramePacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.FramePacket(nil), s.frames...)
}

func TestCamera_EmitsTimestampedJPEG(t *testing.T) {
	mock := clock.NewMock()
	cam := NewCamera(CameraConfig{Width: 64, Height: 48, FPS: 10}, mock)
	assert.Equal(t, 100*time.Millisecond, cam.Interval())

	sink := &frameSink{}
	require.NoError(t, cam.Start(sink.emit))
	assert.ErrorIs(t, cam.Start(sink.emit), ErrAlreadyRunning)

	for i := 1; i <= 3; i++ {
		mock.Add(cam.Interval())
		want := i
		require.Eventually(t, func() bool { return cam.Emitted() == want }, 2*time.Second, time.Millisecond)
	}
	require.NoError(t, cam.Stop())
	require.NoError(t, cam.Stop())

	frames := sink.all()
	require.Len(t, frames, 3)
	assert.Equal(t, uint64(100000), frames[0].CaptureTimestampMicros)
	for i := 1; i < len(frames); i++ {
		assert.Greater(t, frames[i].CaptureTimestampMicros, frames[i-1].CaptureTimestampMicros)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(frames[0].Payload))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 48, cfg.Height)
	assert.NotEqual(t, frames[0].Payload, frames[1].Payload)
}

func TestCamera_NoFramesAfterStop(t *testing.T) {
	mock := clock.NewMock()
	cam := NewCamera(CameraConfig{Width: 16, Height: 16, FPS: 10}, mock)
	sink := &frameSink{}
	require.NoError(t, cam.Start(sink.emit))
	require.NoError(t, cam.Stop())

	mock.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, sink.all())

	require.NoError(t, cam.Start(sink.emit), "camera restarts after stop")
	require.NoError(t, cam.Stop())
}

func TestCamera_Defaults(t *testing.T) {
	cam := NewCamera(CameraConfig{}, nil)
	assert.Equal(t, DefaultCameraConfig(), cam.cfg)
	assert.Error(t, cam.Start(nil))
}

func TestMicrophone_RecordsElapsedTone(t *testing.T) {
	mock := clock.NewMock()
	mic := NewMicrophone(MicrophoneConfig{}, mock)

	_, err := mic.Stop()
	assert.ErrorIs(t, err, ErrNotRecording)

	require.NoError(t, mic.Start())
	assert.ErrorIs(t, mic.Start(), ErrAlreadyRunning)
	mock.Add(2 * time.Second)

	blob, err := mic.Stop()
	require.NoError(t, err)
	require.True(t, blob.Present())

	info, err := reconstruct.ProbeAudio(blob, reconstruct.DefaultPCMFormat())
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, info.Duration)
	assert.Equal(t, 48000, info.Format.SampleRate)
	assert.Equal(t, 192000, info.DataSize)
}

func TestRobot_RecordsCalls(t *testing.T) {
	r := NewRobot()
	require.NoError(t, r.Say("hello"))
	require.NoError(t, r.Rest())
	require.NoError(t, r.WakeUp())
	assert.Equal(t, []string{"say:hello", "rest", "wake"}, r.Calls())
}
