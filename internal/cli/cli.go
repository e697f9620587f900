// Package cli holds the flag model and process plumbing shared by the
// pepperlink executables.
package cli

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/opd-ai/pepperlink/config"
	"github.com/opd-ai/pepperlink/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ConfigEnv names the variable that points at a configuration file.
const ConfigEnv = "PEPPERLINK_CONFIG"

// Common are the flags both roles accept. Their defaults come from the
// loaded configuration, so flags override file and environment values.
type Common struct {
	Host           string `help:"Host to bind (receiver) or reach (sender)." default:"${host}"`
	TCPPort        int    `name:"tcp-port" help:"Control channel port." default:"${tcp_port}"`
	UDPPort        int    `name:"udp-port" help:"Datagram port." default:"${udp_port}"`
	AudioTransport string `name:"audio-transport" help:"Channel carrying the audio blob." enum:"tcp,udp" default:"${audio_transport}"`
	LogLevel       string `name:"log-level" help:"Log level." enum:"trace,debug,info,warn,warning,error,fatal,panic" default:"${log_level}"`
	LogFormat      string `name:"log-format" help:"Log format." enum:"text,json" default:"${log_format}"`
	MetricsAddr    string `name:"metrics-addr" help:"Serve Prometheus metrics on this address." default:"${metrics_addr}"`
}

// Vars exposes the configuration as kong interpolation variables.
func Vars(cfg *config.Config) kong.Vars {
	return kong.Vars{
		"host":            cfg.Host,
		"tcp_port":        strconv.Itoa(cfg.TCPPort),
		"udp_port":        strconv.Itoa(cfg.UDPPort),
		"audio_transport": cfg.AudioTransport,
		"log_level":       cfg.LogLevel,
		"log_format":      cfg.LogFormat,
		"metrics_addr":    cfg.MetricsAddr,
		"output_dir":      cfg.OutputDir,
		"packet_delay_us": strconv.Itoa(cfg.PacketDelayMicros),
		"mux_audio":       strconv.FormatBool(cfg.MuxAudio),
	}
}

// Apply copies the parsed flags into cfg and validates the result.
func (c *Common) Apply(cfg *config.Config) error {
	cfg.Host = c.Host
	cfg.TCPPort = c.TCPPort
	cfg.UDPPort = c.UDPPort
	cfg.AudioTransport = c.AudioTransport
	cfg.LogLevel = c.LogLevel
	cfg.LogFormat = c.LogFormat
	cfg.MetricsAddr = c.MetricsAddr
	return cfg.Validate()
}

// LoadConfig reads the file named by PEPPERLINK_CONFIG, or the default
// search path when unset.
func LoadConfig() (*config.Config, error) {
	return config.Load(os.Getenv(ConfigEnv))
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			logrus.WithFields(logrus.Fields{
				"function": "SignalContext",
				"signal":   sig.String(),
			}).Info("Received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// ServeMetrics adds the metrics endpoint to g when addr is set.
func ServeMetrics(ctx context.Context, g *errgroup.Group, addr string, reg prometheus.Gatherer) {
	if addr == "" {
		return
	}
	g.Go(func() error {
		return metrics.Serve(ctx, addr, reg)
	})
}
