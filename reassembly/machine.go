package reassembly

import (
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/pepperlink/limits"
	"github.com/opd-ai/pepperlink/media"
	"github.com/opd-ai/pepperlink/wire"
	"github.com/sirupsen/logrus"
)

// Machine is the reassembler state machine. It is not safe for concurrent
// use; a single receiver worker owns it.
type Machine struct {
	cfg   Config
	state State
	sess  *session
	newID func() string
}

// NewMachine creates a Machine in the Idle state. Zero-valued thresholds in
// cfg fall back to their defaults.
func NewMachine(cfg Config) *Machine {
	def := DefaultConfig()
	if cfg.ResetGapMicros == 0 {
		cfg.ResetGapMicros = def.ResetGapMicros
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.AudioStartTimeout <= 0 {
		cfg.AudioStartTimeout = def.AudioStartTimeout
	}
	if cfg.AudioIdleTimeout <= 0 {
		cfg.AudioIdleTimeout = def.AudioIdleTimeout
	}
	if cfg.PreAudioPromoteBytes <= 0 {
		cfg.PreAudioPromoteBytes = def.PreAudioPromoteBytes
	}
	return &Machine{cfg: cfg, state: StateIdle, newID: uuid.NewString}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Snapshot returns a copy of the current session status.
func (m *Machine) Snapshot() Snapshot {
	if m.sess == nil {
		return Snapshot{State: m.state, Countdown: -1}
	}
	return m.sess.snapshot(m.state)
}

// Handle applies one event and returns the actions the owner must execute.
// Malformed input is logged and absorbed; Handle never fails.
func (m *Machine) Handle(ev Event) []Action {
	switch ev.Kind {
	case EventStart:
		m.onStart(ev)
		return nil
	case EventStop:
		m.onStop(ev)
	case EventDatagram:
		if !m.state.listening() {
			return nil
		}
		m.onDatagram(ev.Data, ev.At)
	case EventAudio:
		m.onAudioDelivered(ev)
	case EventTick:
		if !m.state.listening() {
			return nil
		}
		m.evaluateTimers(ev.At)
	case EventFinalized:
		m.onFinalized()
		return nil
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Handle",
			"kind":     ev.Kind,
		}).Warn("Ignoring unknown event")
		return nil
	}
	return m.checkComplete(ev.At)
}

func (m *Machine) onStart(ev Event) {
	if m.state == StateFinalizing {
		logrus.WithFields(logrus.Fields{
			"function":   "onStart",
			"session_id": m.sess.id,
		}).Warn("Start received while finalizing, ignoring")
		return
	}
	if m.state.listening() {
		logrus.WithFields(logrus.Fields{
			"function":   "onStart",
			"session_id": m.sess.id,
			"frames":     len(m.sess.records),
		}).Warn("Start received mid-session, discarding previous session")
	}

	m.sess = newSession(m.newID(), ev.PatientID, ev.At, m.cfg.AudioExpected)
	m.state = StateCapturing

	logrus.WithFields(logrus.Fields{
		"function":   "onStart",
		"session_id": m.sess.id,
		"patient_id": ev.PatientID,
	}).Info("Session started")
}

func (m *Machine) onStop(ev Event) {
	if m.state != StateCapturing {
		logrus.WithFields(logrus.Fields{
			"function": "onStop",
			"state":    m.state,
			"count":    ev.Count,
		}).Warn("Stop handoff outside capture, ignoring")
		return
	}
	s := m.sess
	if ev.Count < 0 {
		logrus.WithFields(logrus.Fields{
			"function":   "onStop",
			"session_id": s.id,
			"count":      ev.Count,
		}).Warn("Negative frame count, treating as zero")
		ev.Count = 0
	}
	s.countdown = ev.Count
	s.handoff = true

	logrus.WithFields(logrus.Fields{
		"function":   "onStop",
		"session_id": s.id,
		"remaining":  ev.Count,
		"received":   len(s.records),
	}).Info("Stop handoff received")

	if s.countdown == 0 {
		m.completeFrames(ev.At, "handoff")
	}
}

func (m *Machine) onDatagram(data []byte, at time.Time) {
	s := m.sess
	s.stats.Datagrams++
	s.lastFragmentAt = at

	switch wire.Classify(data) {
	case wire.KindFrameEnd:
		m.onFrameEnd(at)
	case wire.KindAudioStart:
		m.onAudioStart(at)
	case wire.KindAudioEnd:
		m.onAudioEnd(at)
	case wire.KindAudioNone:
		m.onAudioNone()
	default:
		m.onData(data, at)
	}
}

func (m *Machine) onData(data []byte, at time.Time) {
	s := m.sess
	switch {
	case s.audioActive:
		s.audioBuf = append(s.audioBuf, data...)
		s.lastAudioAt = at
	case s.framesComplete() && !s.audioDone:
		s.preAudio = append(s.preAudio, data...)
		if len(s.preAudio) >= m.cfg.PreAudioPromoteBytes {
			logrus.WithFields(logrus.Fields{
				"function":   "onData",
				"session_id": s.id,
				"bytes":      len(s.preAudio),
			}).Warn("AUDIO_START lost, promoting pre-audio buffer")
			s.stats.PreAudioPromoted = true
			m.activateAudio(at)
			m.finishAudio("pre-audio promoted")
		}
	case s.framesComplete():
		s.stats.StrayDatagrams++
	default:
		if len(s.frameBuf)+len(data) > limits.FrameHeaderSize+limits.MaxFramePayload {
			logrus.WithFields(logrus.Fields{
				"function":   "onData",
				"session_id": s.id,
				"buffered":   len(s.frameBuf),
			}).Warn("Frame buffer overflow, END marker likely lost; discarding buffer")
			s.stats.FramesOverflowed++
			s.frameBuf = nil
		}
		s.frameBuf = append(s.frameBuf, data...)
	}
}

func (m *Machine) onFrameEnd(at time.Time) {
	s := m.sess
	if s.audioActive {
		s.stats.StrayDatagrams++
		return
	}

	buf := s.frameBuf
	s.frameBuf = nil
	if len(buf) == 0 {
		s.stats.EmptyEnds++
		return
	}

	pkt, err := wire.DecodeFrame(buf)
	if err != nil {
		if m.cfg.AcceptLegacyFrames {
			s.stats.LegacyFrames++
			m.accept(media.NewLegacyRecord(len(s.records), buf), at)
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":   "onFrameEnd",
			"session_id": s.id,
			"bytes":      len(buf),
			"error":      err.Error(),
		}).Warn("Dropping malformed frame")
		s.stats.FramesMalformed++
		return
	}

	ts := pkt.CaptureTimestampMicros
	if s.haveBaseline && ts <= s.baseline {
		if s.baseline-ts <= m.cfg.ResetGapMicros {
			logrus.WithFields(logrus.Fields{
				"function":   "onFrameEnd",
				"session_id": s.id,
				"timestamp":  ts,
				"baseline":   s.baseline,
			}).Debug("Dropping duplicate or out-of-order frame")
			s.stats.FramesDuplicate++
			return
		}
		s.epoch++
		s.stats.ClockRestarts++
		logrus.WithFields(logrus.Fields{
			"function":   "onFrameEnd",
			"session_id": s.id,
			"timestamp":  ts,
			"baseline":   s.baseline,
			"epoch":      s.epoch,
		}).Warn("Sender clock restart detected")
	}
	s.baseline = ts
	s.haveBaseline = true
	m.accept(media.NewTimedRecord(ts, s.epoch, len(s.records), pkt.Payload), at)
}

func (m *Machine) accept(rec media.FrameRecord, at time.Time) {
	s := m.sess
	s.records = append(s.records, rec)
	s.stats.FramesAccepted++
	if s.countdown > 0 {
		s.countdown--
		if s.countdown == 0 {
			m.completeFrames(at, "countdown")
		}
	}
}

func (m *Machine) completeFrames(at time.Time, reason string) {
	s := m.sess
	s.countdown = 0
	s.framesZeroAt = at
	s.frameBuf = nil
	m.state = StateDraining

	logrus.WithFields(logrus.Fields{
		"function":   "completeFrames",
		"session_id": s.id,
		"frames":     len(s.records),
		"reason":     reason,
	}).Info("Video complete")
}

func (m *Machine) activateAudio(at time.Time) {
	s := m.sess
	s.audioActive = true
	s.audioBuf = append(s.audioBuf, s.preAudio...)
	s.preAudio = nil
	s.lastAudioAt = at
}

func (m *Machine) onAudioStart(at time.Time) {
	s := m.sess
	if s.audioActive || s.audioDone {
		return
	}
	m.activateAudio(at)
	logrus.WithFields(logrus.Fields{
		"function":   "onAudioStart",
		"session_id": s.id,
	}).Debug("Audio accumulation started")
}

func (m *Machine) onAudioEnd(at time.Time) {
	s := m.sess
	if s.audioDone {
		return
	}
	if !s.audioActive {
		if len(s.preAudio) > 0 {
			s.stats.PreAudioPromoted = true
		}
		m.activateAudio(at)
	}
	m.finishAudio("end marker")
}

func (m *Machine) onAudioNone() {
	s := m.sess
	if s.audioDone {
		return
	}
	s.audioActive = false
	s.audioBuf = nil
	s.preAudio = nil
	s.audio = media.NoAudio()
	s.audioDone = true

	logrus.WithFields(logrus.Fields{
		"function":   "onAudioNone",
		"session_id": s.id,
	}).Info("Sender reported no audio")
}

// finishAudio closes accumulation with whatever arrived.
func (m *Machine) finishAudio(reason string) {
	s := m.sess
	if len(s.audioBuf) > 0 {
		s.audio = media.NewAudioBlob(s.audioBuf)
	} else {
		s.audio = media.NoAudio()
	}
	s.stats.AudioBytes = s.audio.Len()
	s.audioBuf = nil
	s.audioActive = false
	s.audioDone = true

	logrus.WithFields(logrus.Fields{
		"function":   "finishAudio",
		"session_id": s.id,
		"audio":      s.audio.String(),
		"reason":     reason,
	}).Info("Audio complete")
}

func (m *Machine) onAudioDelivered(ev Event) {
	if !m.state.listening() {
		logrus.WithFields(logrus.Fields{
			"function": "onAudioDelivered",
			"state":    m.state,
		}).Warn("Audio delivered without an active session, ignoring")
		return
	}
	s := m.sess
	if s.audioDone {
		return
	}
	s.audioActive = false
	s.audioBuf = nil
	s.preAudio = nil
	s.audio = ev.Audio
	s.stats.AudioBytes = ev.Audio.Len()
	s.audioDone = true

	logrus.WithFields(logrus.Fields{
		"function":   "onAudioDelivered",
		"session_id": s.id,
		"audio":      ev.Audio.String(),
	}).Info("Audio received over control channel")
}

// evaluateTimers compensates for lost markers. It only runs on Tick.
func (m *Machine) evaluateTimers(at time.Time) {
	s := m.sess

	if !s.framesComplete() && len(s.records) > 0 && !s.lastFragmentAt.IsZero() &&
		at.Sub(s.lastFragmentAt) >= m.cfg.InactivityTimeout {
		logrus.WithFields(logrus.Fields{
			"function":   "evaluateTimers",
			"session_id": s.id,
			"countdown":  s.countdown,
			"idle":       at.Sub(s.lastFragmentAt).String(),
		}).Warn("No fragments received, completing video by inactivity")
		s.stats.ForcedCompletion = true
		m.completeFrames(at, "inactivity")
	}

	if s.audioActive && at.Sub(s.lastAudioAt) >= m.cfg.AudioIdleTimeout {
		m.finishAudio("idle timeout")
		return
	}

	if s.framesComplete() && !s.audioDone && !s.audioActive &&
		at.Sub(s.framesZeroAt) >= m.cfg.AudioStartTimeout {
		if len(s.preAudio) > 0 {
			s.stats.PreAudioPromoted = true
			m.activateAudio(at)
			m.finishAudio("start timeout, pre-audio promoted")
			return
		}
		s.audio = media.NoAudio()
		s.audioDone = true
		logrus.WithFields(logrus.Fields{
			"function":   "evaluateTimers",
			"session_id": s.id,
		}).Warn("Audio never started, finalizing without audio")
	}
}

func (m *Machine) checkComplete(at time.Time) []Action {
	if !m.state.listening() || !m.sess.complete() {
		return nil
	}
	s := m.sess
	m.state = StateFinalizing

	result := Result{
		SessionID:  s.id,
		PatientID:  s.patientID,
		StartedAt:  s.startedAt,
		FinishedAt: at,
		Frames:     s.records,
		Audio:      s.audio,
		Stats:      s.stats,
	}

	logrus.WithFields(logrus.Fields{
		"function":   "checkComplete",
		"session_id": s.id,
		"frames":     len(s.records),
		"audio":      s.audio.String(),
	}).Info("Session complete, finalizing")

	return []Action{{Kind: ActionFinalize, Result: result}}
}

func (m *Machine) onFinalized() {
	if m.state != StateFinalizing {
		logrus.WithFields(logrus.Fields{
			"function": "onFinalized",
			"state":    m.state,
		}).Debug("Finalized outside finalizing state, ignoring")
		return
	}
	m.sess = nil
	m.state = StateIdle
}
