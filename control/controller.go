package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/opd-ai/pepperlink/wire"
	"github.com/sirupsen/logrus"
)

// DefaultHandoffTimeout bounds each read of the stop handoff.
const DefaultHandoffTimeout = 30 * time.Second

// Session receives the control events of the current capture. The receiver
// implements it by enqueueing events for its worker.
type Session interface {
	Begin(patientID string)
	Handoff(remaining int)
	DeliverAudio(audio media.AudioBlob)
}

// ControllerConfig configures the receiver side of the control channel.
type ControllerConfig struct {
	// HandoffTimeout bounds the count read, the audio header read and the
	// audio body read individually.
	HandoffTimeout time.Duration
	// AudioOverControl is true when the sender answers stop with audio on
	// this channel.
	AudioOverControl bool
}

// DefaultControllerConfig returns the default configuration.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		HandoffTimeout:   DefaultHandoffTimeout,
		AudioOverControl: true,
	}
}

// Controller issues commands to a connected sender. Commands are
// serialized; it is safe to call from several goroutines.
type Controller struct {
	cfg     ControllerConfig
	session Session

	mu   sync.Mutex
	conn *transport.StreamConn
}

// NewController creates a controller bound to a session sink.
func NewController(session Session, cfg ControllerConfig) *Controller {
	if cfg.HandoffTimeout <= 0 {
		cfg.HandoffTimeout = DefaultHandoffTimeout
	}
	return &Controller{cfg: cfg, session: session}
}

// AcceptFrom waits for the sender on l, retrying every poll interval until
// a connection arrives or ctx is cancelled.
func (c *Controller) AcceptFrom(ctx context.Context, l *transport.Listener, poll time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn, err := l.Accept(poll)
		if err == nil {
			c.Attach(conn)
			return nil
		}
		if transport.IsFatal(err) {
			return fmt.Errorf("accept control connection: %w", err)
		}
	}
}

// Attach binds an established connection, replacing any previous one.
func (c *Controller) Attach(conn *transport.StreamConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
}

// Connected reports whether a sender is attached.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Start begins a capture. The session is armed before the command leaves so
// that no early datagram is discarded.
func (c *Controller) Start(ctx context.Context, patientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.session.Begin(patientID)
	return c.send(ctx, wire.Command{Name: wire.CommandStart, Arg: patientID})
}

// Stop ends the capture and performs the handoff. It returns the remaining
// frame count reported by the sender.
func (c *Controller) Stop(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0, ErrNotConnected
	}
	if err := c.send(ctx, wire.Command{Name: wire.CommandStop}); err != nil {
		return 0, err
	}

	line, err := c.conn.ReadLine(c.cfg.HandoffTimeout)
	if err != nil {
		return 0, fmt.Errorf("read frame count: %w", err)
	}
	remaining, err := wire.ParseCount(line)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBadHandoff, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Controller.Stop",
		"remaining": remaining,
	}).Info("Received frame count")
	c.session.Handoff(remaining)

	if c.cfg.AudioOverControl {
		audio, err := c.readAudio()
		c.session.DeliverAudio(audio)
		if err != nil {
			return remaining, err
		}
	}
	return remaining, nil
}

// readAudio reads the audio header and body. On failure it returns NoAudio
// alongside the error so the session can still finalize.
func (c *Controller) readAudio() (media.AudioBlob, error) {
	line, err := c.conn.ReadLine(c.cfg.HandoffTimeout)
	if err != nil {
		return media.NoAudio(), fmt.Errorf("read audio header: %w", err)
	}
	n, none, err := wire.ParseAudioHeader(line)
	if err != nil {
		return media.NoAudio(), fmt.Errorf("%w: %w", ErrBadHandoff, err)
	}
	if none {
		logrus.WithField("function", "Controller.readAudio").Info("Sender reported no audio")
		return media.NoAudio(), nil
	}
	if err := limits.ValidateAudioBlob(n); err != nil {
		return media.NoAudio(), fmt.Errorf("%w: %w", ErrBadHandoff, err)
	}

	data, err := c.conn.ReadFull(n, c.cfg.HandoffTimeout)
	if err != nil {
		return media.NoAudio(), fmt.Errorf("read audio body: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Controller.readAudio",
		"bytes":    n,
	}).Info("Received audio over control channel")
	return media.NewAudioBlob(data), nil
}

// Speak asks the robot to say text.
func (c *Controller) Speak(ctx context.Context, text string) error {
	return c.simple(ctx, wire.Command{Name: wire.CommandSpeak, Arg: text})
}

// Sleep puts the robot to rest.
func (c *Controller) Sleep(ctx context.Context) error {
	return c.simple(ctx, wire.Command{Name: wire.CommandSleep})
}

// Wake wakes the robot.
func (c *Controller) Wake(ctx context.Context) error {
	return c.simple(ctx, wire.Command{Name: wire.CommandWake})
}

// Exit asks the sender to shut down and closes the connection.
func (c *Controller) Exit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	err := c.send(ctx, wire.Command{Name: wire.CommandExit})
	_ = c.conn.Close()
	c.conn = nil
	return err
}

// Close drops the connection without notifying the sender.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Controller) simple(ctx context.Context, cmd wire.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	return c.send(ctx, cmd)
}

// send writes one command line. c.mu must be held.
func (c *Controller) send(ctx context.Context, cmd wire.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.Write(cmd.Line()); err != nil {
		return fmt.Errorf("send %s: %w", cmd.Name, err)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Controller.send",
		"command":  cmd.String(),
	}).Debug("Command sent")
	return nil
}
