package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/opd-ai/pepperlink/wire"
	"github.com/sirupsen/logrus"
)

// Agent timing defaults.
const (
	DefaultPollTimeout  = 5 * time.Second
	DefaultGraceTimeout = 100 * time.Millisecond
)

// Device is the robot-side collaborator driven by commands.
type Device interface {
	StartCapture(patientID string) error
	// StopCapture stops recording and returns the captured audio. Frames
	// must no longer be produced once it returns.
	StopCapture() (media.AudioBlob, error)
	Speak(text string) error
	Sleep() error
	Wake() error
}

// PendingCounter reports how many captured frames have not been sent yet.
type PendingCounter interface {
	Pending() int
}

// AudioSink receives the stopped capture's audio when it travels on the
// datagram path.
type AudioSink func(audio media.AudioBlob)

// AgentConfig configures the sender side of the control channel.
type AgentConfig struct {
	// PollTimeout bounds each command read so cancellation is observed.
	PollTimeout time.Duration
	// GraceTimeout waits for the rest of an unterminated command before
	// taking it as a raw command.
	GraceTimeout time.Duration
	// AudioOverControl answers stop with the audio on this channel.
	AudioOverControl bool
}

// DefaultAgentConfig returns the default configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		PollTimeout:      DefaultPollTimeout,
		GraceTimeout:     DefaultGraceTimeout,
		AudioOverControl: true,
	}
}

// Agent serves commands on the sender. It is the only writer of the
// handoff on its connection.
type Agent struct {
	cfg     AgentConfig
	conn    *transport.StreamConn
	device  Device
	pending PendingCounter
	sink    AudioSink
}

// NewAgent creates an agent. sink may be nil when audio travels over the
// control channel.
func NewAgent(conn *transport.StreamConn, device Device, pending PendingCounter, sink AudioSink, cfg AgentConfig) (*Agent, error) {
	if conn == nil || device == nil || pending == nil {
		return nil, errors.New("agent requires a connection, a device and a pending counter")
	}
	if !cfg.AudioOverControl && sink == nil {
		return nil, errors.New("agent requires an audio sink when audio is not sent over control")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.GraceTimeout <= 0 {
		cfg.GraceTimeout = DefaultGraceTimeout
	}
	return &Agent{cfg: cfg, conn: conn, device: device, pending: pending, sink: sink}, nil
}

// Run serves commands until exit is received, ctx is cancelled or the
// connection fails. It returns nil on exit.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := a.next()
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read command: %w", err)
		}

		cmd, err := wire.ParseCommand(line)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Agent.Run",
				"line":     line,
				"error":    err.Error(),
			}).Warn("Ignoring invalid command")
			continue
		}

		if cmd.Name == wire.CommandExit {
			logrus.WithField("function", "Agent.Run").Info("Exit received")
			return nil
		}
		if err := a.dispatch(cmd); err != nil {
			return err
		}
	}
}

// next returns one command, accepting both newline-terminated lines and a
// raw command written without a terminator.
func (a *Agent) next() (string, error) {
	line, err := a.conn.ReadLine(a.cfg.PollTimeout)
	if !errors.Is(err, transport.ErrTimeout) {
		return line, err
	}

	// Nothing buffered: a plain poll timeout.
	raw := a.conn.TakePartial()
	if len(raw) == 0 {
		return "", transport.ErrTimeout
	}

	// Give the terminator a moment to arrive before taking the raw bytes.
	rest, err := a.grace(raw)
	if err == nil {
		return rest, nil
	}
	if !errors.Is(err, transport.ErrTimeout) {
		return "", err
	}
	return strings.TrimSpace(string(append(raw, a.conn.TakePartial()...))), nil
}

func (a *Agent) grace(raw []byte) (string, error) {
	line, err := a.conn.ReadLine(a.cfg.GraceTimeout)
	if err != nil {
		return "", err
	}
	return string(raw) + line, nil
}

func (a *Agent) dispatch(cmd wire.Command) error {
	log := logrus.WithFields(logrus.Fields{
		"function": "Agent.dispatch",
		"command":  cmd.String(),
	})

	switch cmd.Name {
	case wire.CommandStart:
		if err := a.device.StartCapture(cmd.Arg); err != nil {
			log.WithError(err).Error("Failed to start capture")
			return nil
		}
		log.Info("Capture started")
	case wire.CommandStop:
		return a.stop(log)
	case wire.CommandSpeak:
		if err := a.device.Speak(cmd.Arg); err != nil {
			log.WithError(err).Warn("Speak failed")
		}
	case wire.CommandSleep:
		if err := a.device.Sleep(); err != nil {
			log.WithError(err).Warn("Sleep failed")
		}
	case wire.CommandWake:
		if err := a.device.Wake(); err != nil {
			log.WithError(err).Warn("Wake failed")
		}
	}
	return nil
}

// stop answers the stop command. The count is taken after capture stopped
// so no frame can be added behind it.
func (a *Agent) stop(log *logrus.Entry) error {
	audio, err := a.device.StopCapture()
	if err != nil {
		log.WithError(err).Warn("Stop capture failed, sending no audio")
		audio = media.NoAudio()
	}
	if audio.Usable() {
		if err := limits.ValidateAudioBlob(audio.Len()); err != nil {
			log.WithError(err).Warn("Discarding oversized audio")
			audio = media.NoAudio()
		}
	}
	remaining := a.pending.Pending()

	parts := [][]byte{wire.FormatCount(remaining)}
	if a.cfg.AudioOverControl {
		if audio.Usable() {
			parts = append(parts, wire.FormatAudioLen(audio.Len()), audio.Bytes())
		} else {
			parts = append(parts, wire.FormatAudioNone())
		}
	}
	if err := a.conn.WriteAll(parts...); err != nil {
		return fmt.Errorf("write stop handoff: %w", err)
	}

	log.WithFields(logrus.Fields{
		"remaining": remaining,
		"audio":     audio.String(),
	}).Info("Stop handoff sent")

	if !a.cfg.AudioOverControl {
		a.sink(audio)
	}
	return nil
}
