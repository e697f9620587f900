// Package sender wires the robot-side collaborators to the chunker and the
// control agent.
//
// Two workers run under one errgroup: the stream worker drains the frame
// queue into the chunker, and the control worker serves commands. The
// control worker is the only writer of the stop handoff.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/chunker"
	"github.com/opd-ai/pepperlink/control"
	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/metrics"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultPollInterval is how long the stream worker idles on an empty queue.
const DefaultPollInterval = 200 * time.Millisecond

// Camera produces encoded frames while started.
type Camera interface {
	// Start begins capture; every frame is passed to emit.
	Start(emit func(media.FramePacket)) error
	// Stop ends capture. No frame is emitted after it returns.
	Stop() error
}

// Microphone records audio while started.
type Microphone interface {
	Start() error
	// Stop ends recording and returns what was captured.
	Stop() (media.AudioBlob, error)
}

// Robot performs the non-capture commands.
type Robot interface {
	Say(text string) error
	Rest() error
	WakeUp() error
}

// Config configures the sender.
type Config struct {
	PollInterval time.Duration
	// AudioOverControl sends audio on the control channel instead of the
	// datagram path.
	AudioOverControl bool
	Agent            control.AgentConfig
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:     DefaultPollInterval,
		AudioOverControl: true,
		Agent:            control.DefaultAgentConfig(),
	}
}

// Sender owns the capture collaborators, the frame queue and the chunker.
type Sender struct {
	cfg     Config
	queue   *FrameQueue
	chunker *chunker.Chunker
	camera  Camera
	mic     Microphone
	robot   Robot
	clock   clock.Clock
	metrics *metrics.Metrics

	mu        sync.Mutex
	capturing bool

	// audio carries a stopped capture's audio to the stream worker.
	audio chan media.AudioBlob
}

// Option configures a Sender.
type Option func(*Sender)

// WithClock sets the clock used for idle polling.
func WithClock(c clock.Clock) Option {
	return func(s *Sender) { s.clock = c }
}

// WithMetrics records sender metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sender) { s.metrics = m }
}

// WithMicrophone attaches a microphone. Without one, captures have no audio.
func WithMicrophone(m Microphone) Option {
	return func(s *Sender) { s.mic = m }
}

// WithRobot attaches the robot for speak, sleep and wake.
func WithRobot(r Robot) Option {
	return func(s *Sender) { s.robot = r }
}

// New creates a sender.
func New(cfg Config, ch *chunker.Chunker, camera Camera, opts ...Option) (*Sender, error) {
	if ch == nil {
		return nil, errors.New("chunker cannot be nil")
	}
	if camera == nil {
		return nil, errors.New("camera cannot be nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	cfg.Agent.AudioOverControl = cfg.AudioOverControl

	s := &Sender{
		cfg:     cfg,
		queue:   NewFrameQueue(),
		chunker: ch,
		camera:  camera,
		clock:   clock.New(),
		audio:   make(chan media.AudioBlob, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Queue returns the frame queue.
func (s *Sender) Queue() *FrameQueue {
	return s.queue
}

// Pending implements control.PendingCounter.
func (s *Sender) Pending() int {
	return s.queue.Pending()
}

// StartCapture implements control.Device.
func (s *Sender) StartCapture(patientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capturing {
		return errors.New("capture already running")
	}

	if err := s.camera.Start(s.enqueue); err != nil {
		return fmt.Errorf("start camera: %w", err)
	}
	if s.mic != nil {
		if err := s.mic.Start(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "StartCapture",
				"error":    err.Error(),
			}).Warn("Microphone failed to start, capturing without audio")
		}
	}
	s.capturing = true

	logrus.WithFields(logrus.Fields{
		"function":   "StartCapture",
		"patient_id": patientID,
	}).Info("Capture started")
	return nil
}

// StopCapture implements control.Device.
func (s *Sender) StopCapture() (media.AudioBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.capturing {
		return media.NoAudio(), nil
	}
	s.capturing = false

	if err := s.camera.Stop(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "StopCapture",
			"error":    err.Error(),
		}).Warn("Camera failed to stop cleanly")
	}
	if s.mic == nil {
		return media.NoAudio(), nil
	}
	audio, err := s.mic.Stop()
	if err != nil {
		return media.NoAudio(), fmt.Errorf("stop microphone: %w", err)
	}
	return audio, nil
}

// Speak implements control.Device.
func (s *Sender) Speak(text string) error {
	if s.robot == nil {
		logrus.WithField("function", "Speak").Debug("No robot attached")
		return nil
	}
	return s.robot.Say(text)
}

// Sleep implements control.Device.
func (s *Sender) Sleep() error {
	if s.robot == nil {
		return nil
	}
	return s.robot.Rest()
}

// Wake implements control.Device.
func (s *Sender) Wake() error {
	if s.robot == nil {
		return nil
	}
	return s.robot.WakeUp()
}

// QueueAudio hands audio to the stream worker, which sends it once every
// queued frame is out. It is the control.AudioSink on the datagram path.
func (s *Sender) QueueAudio(audio media.AudioBlob) {
	select {
	case s.audio <- audio:
	default:
		// A previous capture's audio is still waiting; the newest wins.
		select {
		case <-s.audio:
		default:
		}
		s.audio <- audio
	}
}

// enqueue drops invalid frames up front so Pending never counts a frame
// the receiver cannot see.
func (s *Sender) enqueue(p media.FramePacket) {
	if err := validFrame(p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"frame":    p.String(),
			"error":    err.Error(),
		}).Warn("Dropping invalid frame")
		return
	}
	s.queue.Push(p)
	s.metrics.SetPendingFrames(s.queue.Pending())
}

// Stream drains the queue into the chunker until ctx is cancelled. A
// transport failure ends the worker.
func (s *Sender) Stream(ctx context.Context) error {
	var pendingAudio *media.AudioBlob

	for {
		if ctx.Err() != nil {
			return nil
		}

		if p, ok := s.queue.Pop(); ok {
			err := s.sendFrame(ctx, p)
			s.queue.Done()
			s.metrics.SetPendingFrames(s.queue.Pending())
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			continue
		}

		if pendingAudio == nil {
			select {
			case a := <-s.audio:
				pendingAudio = &a
			default:
			}
		}
		if pendingAudio != nil && s.queue.Pending() == 0 {
			audio := *pendingAudio
			pendingAudio = nil
			if err := s.chunker.SendAudio(ctx, audio); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("send audio: %w", err)
			}
			s.metrics.RecordAudioSent(audio.Len())
			continue
		}

		timer := s.clock.Timer(s.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Sender) sendFrame(ctx context.Context, p media.FramePacket) error {
	if err := validFrame(p); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendFrame",
			"frame":    p.String(),
			"error":    err.Error(),
		}).Warn("Dropping invalid frame")
		return nil
	}

	before := s.chunker.Stats().FragmentsSent
	if err := s.chunker.SendFrame(ctx, p); err != nil {
		return fmt.Errorf("send frame: %w", err)
	}
	s.metrics.RecordFrameSent(int(s.chunker.Stats().FragmentsSent - before))
	return nil
}

func validFrame(p media.FramePacket) error {
	if err := limits.ValidateFramePayload(p.Payload); err != nil {
		return err
	}
	return limits.ValidateTimestamp(p.CaptureTimestampMicros)
}

// Run serves commands on conn and streams frames until exit, cancellation
// or a transport failure.
func (s *Sender) Run(ctx context.Context, conn *transport.StreamConn) error {
	var sink control.AudioSink
	if !s.cfg.AudioOverControl {
		sink = s.QueueAudio
	}
	agent, err := control.NewAgent(conn, s, s, sink, s.cfg.Agent)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.Stream(gctx)
	})
	g.Go(func() error {
		defer cancel()
		err := agent.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	s.mu.Lock()
	capturing := s.capturing
	s.mu.Unlock()
	if capturing {
		_, _ = s.StopCapture()
	}
	return err
}
