// Package metrics exposes pepperlink counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components accept one
// unconditionally.
package metrics

import (
	"github.com/opd-ai/pepperlink/reassembly"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pepperlink"

// Metrics holds every collector. Create one per registry.
type Metrics struct {
	datagrams         *prometheus.CounterVec
	frames            *prometheus.CounterVec
	clockRestarts     prometheus.Counter
	audioRecoveries   *prometheus.CounterVec
	sessions          *prometheus.CounterVec
	reconstructTime   prometheus.Histogram
	fillerFrames      prometheus.Counter
	audioBytes        *prometheus.CounterVec
	framesSent        prometheus.Counter
	fragmentsSent     prometheus.Counter
	pendingFrames     prometheus.Gauge
	reassemblerActive prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		datagrams: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "datagrams_received_total",
				Help:      "Datagrams received by the reassembler",
			},
			[]string{"kind"}, // data, END, AUDIO_START, AUDIO_END, AUDIO_NONE
		),
		frames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_total",
				Help:      "Reassembled frame buffers by outcome",
			},
			[]string{"outcome"}, // accepted, duplicate, malformed, overflow, legacy
		),
		clockRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_restarts_total",
			Help:      "Sender clock restarts accepted by the reassembler",
		}),
		audioRecoveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recoveries_total",
				Help:      "Lost-marker recoveries applied by the reassembler",
			},
			[]string{"reason"}, // pre_audio_promoted, inactivity
		),
		sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Finalized sessions by reconstruction outcome",
			},
			[]string{"outcome"}, // muxed, video_only, failed
		),
		reconstructTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconstruct_duration_seconds",
			Help:      "Time spent reconstructing a session",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		fillerFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filler_frames_total",
			Help:      "Filler frames written to cover gaps",
		}),
		audioBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audio_bytes_total",
				Help:      "Audio bytes handled",
			},
			[]string{"direction"}, // sent, received
		),
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Frames sent by the chunker",
		}),
		fragmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fragments_sent_total",
			Help:      "Datagrams sent by the chunker, markers included",
		}),
		pendingFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_frames",
			Help:      "Captured frames not yet sent",
		}),
		reassemblerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_active",
			Help:      "1 while the receiver holds an unfinished session",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.datagrams,
			m.frames,
			m.clockRestarts,
			m.audioRecoveries,
			m.sessions,
			m.reconstructTime,
			m.fillerFrames,
			m.audioBytes,
			m.framesSent,
			m.fragmentsSent,
			m.pendingFrames,
			m.reassemblerActive,
		)
	}
	return m
}

// RecordDatagram counts one received datagram by classification.
func (m *Metrics) RecordDatagram(kind string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(kind).Inc()
}

// RecordSession folds a finalized session's reassembly statistics in.
func (m *Metrics) RecordSession(stats reassembly.Stats) {
	if m == nil {
		return
	}
	m.frames.WithLabelValues("accepted").Add(float64(stats.FramesAccepted))
	m.frames.WithLabelValues("duplicate").Add(float64(stats.FramesDuplicate))
	m.frames.WithLabelValues("malformed").Add(float64(stats.FramesMalformed))
	m.frames.WithLabelValues("overflow").Add(float64(stats.FramesOverflowed))
	m.frames.WithLabelValues("legacy").Add(float64(stats.LegacyFrames))
	m.clockRestarts.Add(float64(stats.ClockRestarts))
	m.audioBytes.WithLabelValues("received").Add(float64(stats.AudioBytes))
	if stats.PreAudioPromoted {
		m.audioRecoveries.WithLabelValues("pre_audio_promoted").Inc()
	}
	if stats.ForcedCompletion {
		m.audioRecoveries.WithLabelValues("inactivity").Inc()
	}
}

// RecordReconstruction records one reconstruction outcome.
func (m *Metrics) RecordReconstruction(outcome string, seconds float64, fillers int) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(outcome).Inc()
	m.reconstructTime.Observe(seconds)
	m.fillerFrames.Add(float64(fillers))
}

// SetSessionActive reports whether the receiver holds a session.
func (m *Metrics) SetSessionActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.reassemblerActive.Set(1)
		return
	}
	m.reassemblerActive.Set(0)
}

// RecordFrameSent counts one frame and its datagrams.
func (m *Metrics) RecordFrameSent(datagrams int) {
	if m == nil {
		return
	}
	m.framesSent.Inc()
	m.fragmentsSent.Add(float64(datagrams))
}

// RecordAudioSent counts audio bytes handed to a transport.
func (m *Metrics) RecordAudioSent(bytes int) {
	if m == nil {
		return
	}
	m.audioBytes.WithLabelValues("sent").Add(float64(bytes))
}

// SetPendingFrames reports the sender queue depth.
func (m *Metrics) SetPendingFrames(n int) {
	if m == nil {
		return
	}
	m.pendingFrames.Set(float64(n))
}
