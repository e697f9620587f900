// Package receiver runs the receiving side of a pepperlink session: a single
// worker owns the reassembly state machine, reads datagrams with a bounded
// wait, evaluates timers and runs reconstruction when a session completes.
//
// Control commands reach the worker as queued events through the
// control.Session methods; no other goroutine touches the session state.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/metrics"
	"github.com/opd-ai/pepperlink/reassembly"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/opd-ai/pepperlink/wire"
	"github.com/sirupsen/logrus"
)

// Defaults for the worker loop.
const (
	DefaultPollTimeout   = 200 * time.Millisecond
	DefaultCommandBuffer = 64
	DefaultCloseTimeout  = 5 * time.Second
)

// ErrCloseTimeout indicates the worker did not stop within the close timeout.
var ErrCloseTimeout = errors.New("receiver: worker did not stop in time")

// DatagramSource is the receiving end of the datagram path.
type DatagramSource interface {
	ReadDatagram(timeout time.Duration) ([]byte, net.Addr, error)
}

// Reconstructor turns a finalized session into an artifact.
type Reconstructor interface {
	Reconstruct(ctx context.Context, in reconstruct.Input) (*reconstruct.Artifact, error)
}

// ArtifactHandler observes every finalized session. art is nil when err is set.
type ArtifactHandler func(res reassembly.Result, art *reconstruct.Artifact, err error)

// Config configures the receiver.
type Config struct {
	Reassembly    reassembly.Config
	PollTimeout   time.Duration
	CommandBuffer int
	CloseTimeout  time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Reassembly:    reassembly.DefaultConfig(),
		PollTimeout:   DefaultPollTimeout,
		CommandBuffer: DefaultCommandBuffer,
		CloseTimeout:  DefaultCloseTimeout,
	}
}

// Status is a point-in-time copy of the receiver state.
type Status struct {
	reassembly.Snapshot
	Sessions     int
	LastArtifact string
	LastError    string
}

// Receiver owns the reassembly worker.
type Receiver struct {
	cfg        Config
	src        DatagramSource
	engine     Reconstructor
	clock      clock.Clock
	metrics    *metrics.Metrics
	onArtifact ArtifactHandler

	machine  *reassembly.Machine
	commands chan reassembly.Event

	mu       sync.Mutex
	status   Status
	sessions int
	// stopped is closed while no worker is running.
	stopped chan struct{}

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// Option configures a Receiver.
type Option func(*Receiver)

// WithClock sets the clock that stamps events.
func WithClock(c clock.Clock) Option {
	return func(r *Receiver) { r.clock = c }
}

// WithMetrics records receiver metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Receiver) { r.metrics = m }
}

// WithArtifactHandler registers a callback for finalized sessions.
func WithArtifactHandler(h ArtifactHandler) Option {
	return func(r *Receiver) { r.onArtifact = h }
}

// New creates a receiver reading from src and reconstructing with engine.
func New(cfg Config, src DatagramSource, engine Reconstructor, opts ...Option) (*Receiver, error) {
	if src == nil {
		return nil, errors.New("datagram source cannot be nil")
	}
	if engine == nil {
		return nil, errors.New("reconstructor cannot be nil")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = DefaultCommandBuffer
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = DefaultCloseTimeout
	}

	stopped := make(chan struct{})
	close(stopped)

	r := &Receiver{
		cfg:      cfg,
		src:      src,
		engine:   engine,
		clock:    clock.New(),
		machine:  reassembly.NewMachine(cfg.Reassembly),
		commands: make(chan reassembly.Event, cfg.CommandBuffer),
		stopped:  stopped,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.status = Status{Snapshot: r.machine.Snapshot()}
	return r, nil
}

// Begin implements control.Session.
func (r *Receiver) Begin(patientID string) {
	r.enqueue(reassembly.Event{Kind: reassembly.EventStart, PatientID: patientID})
}

// Handoff implements control.Session.
func (r *Receiver) Handoff(remaining int) {
	r.enqueue(reassembly.Event{Kind: reassembly.EventStop, Count: remaining})
}

// DeliverAudio implements control.Session.
func (r *Receiver) DeliverAudio(audio media.AudioBlob) {
	r.enqueue(reassembly.Event{Kind: reassembly.EventAudio, Audio: audio})
}

// enqueue queues a command for the worker. A full queue blocks only while a
// worker is running to drain it; otherwise the command is dropped.
func (r *Receiver) enqueue(ev reassembly.Event) {
	select {
	case r.commands <- ev:
		return
	default:
	}

	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()

	select {
	case r.commands <- ev:
	case <-stopped:
		logrus.WithFields(logrus.Fields{
			"function": "enqueue",
			"kind":     ev.Kind,
			"queued":   len(r.commands),
		}).Warn("Command queue full and no worker running, dropping command")
	}
}

// Status returns the latest published status.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Start runs the worker in the background until Close or ctx is cancelled.
func (r *Receiver) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.done != nil {
		return errors.New("receiver already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan error, 1)
	go func() { r.done <- r.Run(ctx) }()
	return nil
}

// Close stops a worker started with Start and waits for it, bounded by the
// close timeout.
func (r *Receiver) Close() error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.done == nil {
		return nil
	}
	r.cancel()
	select {
	case err := <-r.done:
		r.done = nil
		return err
	case <-time.After(r.cfg.CloseTimeout):
		return ErrCloseTimeout
	}
}

// Run is the worker loop. It returns nil when ctx is cancelled and an error
// when the datagram source fails.
func (r *Receiver) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function":     "Run",
		"poll_timeout": r.cfg.PollTimeout.String(),
	}).Info("Receiver worker started")

	stopped := make(chan struct{})
	r.mu.Lock()
	r.stopped = stopped
	r.mu.Unlock()
	defer close(stopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		data, _, err := r.src.ReadDatagram(r.cfg.PollTimeout)

		// A start queued while the read was blocked must arm the session
		// before the datagram that woke the worker is handled.
		r.drainCommands(ctx)

		switch {
		case err == nil:
			r.metrics.RecordDatagram(wire.Classify(data).String())
			r.handle(ctx, reassembly.DatagramEvent(r.clock.Now(), data))
		case errors.Is(err, transport.ErrTimeout):
		default:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read datagram: %w", err)
		}

		r.handle(ctx, reassembly.TickEvent(r.clock.Now()))
		r.publish()
	}
}

func (r *Receiver) drainCommands(ctx context.Context) {
	for {
		select {
		case ev := <-r.commands:
			ev.At = r.clock.Now()
			r.handle(ctx, ev)
		default:
			return
		}
	}
}

func (r *Receiver) handle(ctx context.Context, ev reassembly.Event) {
	for _, action := range r.machine.Handle(ev) {
		if action.Kind != reassembly.ActionFinalize {
			continue
		}
		r.finalize(ctx, action.Result)
		r.machine.Handle(reassembly.FinalizedEvent(r.clock.Now()))
	}
}

// finalize runs reconstruction synchronously; datagrams arriving meanwhile
// queue in the socket buffer and are discarded by the Idle machine.
func (r *Receiver) finalize(ctx context.Context, res reassembly.Result) {
	log := logrus.WithFields(logrus.Fields{
		"function":   "finalize",
		"session_id": res.SessionID,
		"patient_id": res.PatientID,
		"frames":     len(res.Frames),
		"audio":      res.Audio.String(),
	})
	log.Info("Reconstructing session")

	started := r.clock.Now()
	art, err := r.engine.Reconstruct(ctx, reconstruct.Input{
		SessionID: res.SessionID,
		PatientID: res.PatientID,
		Frames:    res.Frames,
		Audio:     res.Audio,
	})
	elapsed := r.clock.Since(started).Seconds()

	r.metrics.RecordSession(res.Stats)
	r.mu.Lock()
	r.sessions++
	switch {
	case err != nil:
		r.status.LastError = err.Error()
		r.metrics.RecordReconstruction("failed", elapsed, 0)
		log.WithError(err).Error("Reconstruction failed")
	default:
		r.status.LastArtifact = art.Path
		r.status.LastError = ""
		outcome := "video_only"
		if art.Muxed {
			outcome = "muxed"
		}
		r.metrics.RecordReconstruction(outcome, elapsed, art.FillersWritten)
		log.WithFields(logrus.Fields{
			"path":    art.Path,
			"fps":     art.Plan.FPS,
			"written": art.TotalWritten(),
		}).Info("Session reconstructed")
	}
	r.mu.Unlock()

	if r.onArtifact != nil {
		r.onArtifact(res, art, err)
	}
}

func (r *Receiver) publish() {
	snap := r.machine.Snapshot()
	r.metrics.SetSessionActive(snap.State != reassembly.StateIdle)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Snapshot = snap
	r.status.Sessions = r.sessions
}
