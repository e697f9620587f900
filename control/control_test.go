package control

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSession struct {
	mu       sync.Mutex
	begins   []string
	handoffs []int
	audio    []media.AudioBlob
}

func (s *recordingSession) Begin(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins = append(s.begins, patientID)
}

func (s *recordingSession) Handoff(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs = append(s.handoffs, remaining)
}

func (s *recordingSession) DeliverAudio(audio media.AudioBlob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, audio)
}

type fakeDevice struct {
	mu      sync.Mutex
	audio   media.AudioBlob
	started []string
	stopped int
	spoken  []string
	sleeps  int
	wakes   int
}

func (d *fakeDevice) StartCapture(patientID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = append(d.started, patientID)
	return nil
}

func (d *fakeDevice) StopCapture() (media.AudioBlob, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped++
	return d.audio, nil
}

func (d *fakeDevice) Speak(text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.spoken = append(d.spoken, text)
	return nil
}

func (d *fakeDevice) Sleep() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sleeps++
	return nil
}

func (d *fakeDevice) Wake() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wakes++
	return nil
}

func (d *fakeDevice) startedWith() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.started...)
}

type fixedPending int

func (p fixedPending) Pending() int { return int(p) }

type loopback struct {
	controller *Controller
	session    *recordingSession
	device     *fakeDevice
	agentDone  chan error
	sunk       chan media.AudioBlob
}

// newLoopback connects a Controller and an Agent over a real TCP socket.
func newLoopback(t *testing.T, audioOverControl bool, device *fakeDevice, pending int) *loopback {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l, err := transport.Listen("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	lb := &loopback{
		session:   &recordingSession{},
		device:    device,
		agentDone: make(chan error, 1),
		sunk:      make(chan media.AudioBlob, 1),
	}
	ccfg := DefaultControllerConfig()
	ccfg.AudioOverControl = audioOverControl
	ccfg.HandoffTimeout = 5 * time.Second
	lb.controller = NewController(lb.session, ccfg)
	t.Cleanup(func() { lb.controller.Close() })

	clientConn, err := transport.Dial(ctx, l.Addr().String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	require.NoError(t, lb.controller.AcceptFrom(ctx, l, 100*time.Millisecond))
	assert.True(t, lb.controller.Connected())

	acfg := DefaultAgentConfig()
	acfg.AudioOverControl = audioOverControl
	acfg.PollTimeout = 50 * time.Millisecond
	var sink AudioSink
	if !audioOverControl {
		sink = func(a media.AudioBlob) { lb.sunk <- a }
	}
	agent, err := NewAgent(clientConn, device, fixedPending(pending), sink, acfg)
	require.NoError(t, err)
	go func() { lb.agentDone <- agent.Run(ctx) }()

	return lb
}

func TestControl_StartStopWithAudio(t *testing.T) {
	audio := bytes.Repeat([]byte{0x42}, 70000)
	lb := newLoopback(t, true, &fakeDevice{audio: media.NewAudioBlob(audio)}, 3)
	ctx := context.Background()

	require.NoError(t, lb.controller.Start(ctx, "17"))
	require.Eventually(t, func() bool { return len(lb.device.startedWith()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"17"}, lb.device.startedWith())

	remaining, err := lb.controller.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)

	lb.session.mu.Lock()
	assert.Equal(t, []string{"17"}, lb.session.begins)
	assert.Equal(t, []int{3}, lb.session.handoffs)
	require.Len(t, lb.session.audio, 1)
	assert.Equal(t, audio, lb.session.audio[0].Bytes())
	lb.session.mu.Unlock()

	require.NoError(t, lb.controller.Exit(ctx))
	select {
	case err := <-lb.agentDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit")
	}
	assert.False(t, lb.controller.Connected())
}

func TestControl_StopWithoutAudio(t *testing.T) {
	lb := newLoopback(t, true, &fakeDevice{audio: media.NoAudio()}, 0)
	ctx := context.Background()

	require.NoError(t, lb.controller.Start(ctx, "5"))
	remaining, err := lb.controller.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	lb.session.mu.Lock()
	defer lb.session.mu.Unlock()
	require.Len(t, lb.session.audio, 1)
	assert.False(t, lb.session.audio[0].Present())
}

func TestControl_AudioOnDatagramPath(t *testing.T) {
	audio := media.NewAudioBlob([]byte("pcm"))
	lb := newLoopback(t, false, &fakeDevice{audio: audio}, 7)
	ctx := context.Background()

	require.NoError(t, lb.controller.Start(ctx, "1"))
	remaining, err := lb.controller.Stop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, remaining)

	select {
	case got := <-lb.sunk:
		assert.Equal(t, []byte("pcm"), got.Bytes())
	case <-time.After(2 * time.Second):
		t.Fatal("audio never reached the sink")
	}

	lb.session.mu.Lock()
	defer lb.session.mu.Unlock()
	assert.Empty(t, lb.session.audio)
}

func TestControl_SpeakSleepWake(t *testing.T) {
	device := &fakeDevice{}
	lb := newLoopback(t, true, device, 0)
	ctx := context.Background()

	require.NoError(t, lb.controller.Speak(ctx, "hello there"))
	require.NoError(t, lb.controller.Sleep(ctx))
	require.NoError(t, lb.controller.Wake(ctx))

	require.Eventually(t, func() bool {
		device.mu.Lock()
		defer device.mu.Unlock()
		return device.wakes == 1
	}, 2*time.Second, 5*time.Millisecond)

	device.mu.Lock()
	defer device.mu.Unlock()
	assert.Equal(t, []string{"hello there"}, device.spoken)
	assert.Equal(t, 1, device.sleeps)
}

func TestController_NotConnected(t *testing.T) {
	c := NewController(&recordingSession{}, DefaultControllerConfig())
	ctx := context.Background()

	assert.ErrorIs(t, c.Start(ctx, "1"), ErrNotConnected)
	_, err := c.Stop(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, c.Speak(ctx, "x"), ErrNotConnected)
	assert.ErrorIs(t, c.Exit(ctx), ErrNotConnected)
	assert.NoError(t, c.Close())
}

func pipeController(t *testing.T, cfg ControllerConfig) (*Controller, *recordingSession, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	session := &recordingSession{}
	c := NewController(session, cfg)
	c.Attach(transport.NewStreamConn(local))
	return c, session, remote
}

// answer reads the command line from the peer end and writes reply.
func answer(t *testing.T, peer net.Conn, reply string) {
	t.Helper()
	go func() {
		buf := make([]byte, 64)
		if _, err := peer.Read(buf); err != nil || reply == "" {
			return
		}
		peer.Write([]byte(reply))
	}()
}

func TestController_BadHandoff(t *testing.T) {
	c, session, peer := pipeController(t, DefaultControllerConfig())
	answer(t, peer, "lots\n")

	_, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, ErrBadHandoff)
	assert.Empty(t, session.handoffs)
}

func TestController_BadAudioHeaderDeliversNoAudio(t *testing.T) {
	c, session, peer := pipeController(t, DefaultControllerConfig())
	answer(t, peer, "2\nAUDIO_SIZE:9\n")

	remaining, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, ErrBadHandoff)
	assert.Equal(t, 2, remaining)
	assert.Equal(t, []int{2}, session.handoffs)
	require.Len(t, session.audio, 1)
	assert.False(t, session.audio[0].Present())
}

func TestController_HandoffTimeout(t *testing.T) {
	cfg := DefaultControllerConfig()
	cfg.HandoffTimeout = 50 * time.Millisecond
	c, session, peer := pipeController(t, cfg)
	answer(t, peer, "")

	_, err := c.Stop(context.Background())
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Empty(t, session.handoffs)
}

func TestAgent_RawAndInvalidCommands(t *testing.T) {
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})

	device := &fakeDevice{}
	cfg := DefaultAgentConfig()
	cfg.PollTimeout = 30 * time.Millisecond
	cfg.GraceTimeout = 10 * time.Millisecond
	agent, err := NewAgent(transport.NewStreamConn(local), device, fixedPending(0), nil, cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background()) }()

	_, err = remote.Write([]byte("dance\n"))
	require.NoError(t, err)
	_, err = remote.Write([]byte("start 99"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(device.startedWith()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"99"}, device.startedWith())

	_, err = remote.Write([]byte("exit\n"))
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent did not exit")
	}
}

func TestAgent_CancelAndPeerClose(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	cfg := DefaultAgentConfig()
	cfg.PollTimeout = 20 * time.Millisecond
	agent, err := NewAgent(transport.NewStreamConn(local), &fakeDevice{}, fixedPending(0), nil, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("agent ignored cancellation")
	}

	go func() { done <- agent.Run(context.Background()) }()
	remote.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("agent ignored peer close")
	}
}

func TestNewAgent_Validation(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()
	conn := transport.NewStreamConn(local)

	_, err := NewAgent(nil, &fakeDevice{}, fixedPending(0), nil, DefaultAgentConfig())
	assert.Error(t, err)

	cfg := DefaultAgentConfig()
	cfg.AudioOverControl = false
	_, err = NewAgent(conn, &fakeDevice{}, fixedPending(0), nil, cfg)
	assert.Error(t, err)
}
