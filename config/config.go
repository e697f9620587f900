// Package config loads pepperlink settings from an optional pepperlink.yaml
// and PEPPERLINK_* environment variables, and converts them into the
// component configurations used by the sender and receiver roles.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/pepperlink/chunker"
	"github.com/opd-ai/pepperlink/control"
	"github.com/opd-ai/pepperlink/reassembly"
	"github.com/opd-ai/pepperlink/receiver"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/opd-ai/pepperlink/sender"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PEPPERLINK"

// Audio transports.
const (
	AudioTCP = "tcp"
	AudioUDP = "udp"
)

var (
	// ErrBadAudioTransport indicates audio_transport is neither tcp nor udp.
	ErrBadAudioTransport = errors.New("audio_transport must be tcp or udp")
	// ErrBadPort indicates a port outside 1..65535.
	ErrBadPort = errors.New("port out of range")
)

// Config holds application configuration.
type Config struct {
	Host           string `mapstructure:"host"`
	TCPPort        int    `mapstructure:"tcp_port"`
	UDPPort        int    `mapstructure:"udp_port"`
	MuxAudio       bool   `mapstructure:"mux_audio"`
	AudioTransport string `mapstructure:"audio_transport"`
	// TimestampResetGapMicros is the backward jump taken as a sender clock restart.
	TimestampResetGapMicros uint64 `mapstructure:"timestamp_reset_gap_us"`
	PacketDelayMicros       int    `mapstructure:"packet_delay_us"`
	OutputDir               string `mapstructure:"output_dir"`
	FFmpegPath              string `mapstructure:"ffmpeg_path"`
	VideoCodec              string `mapstructure:"video_codec"`
	Width                   int    `mapstructure:"width"`
	Height                  int    `mapstructure:"height"`
	LogLevel                string `mapstructure:"log_level"`
	LogFormat               string `mapstructure:"log_format"`
	// MetricsAddr enables the Prometheus endpoint when non-empty.
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	HandoffTimeout time.Duration `mapstructure:"handoff_timeout"`

	Reassembly ReassemblyConfig `mapstructure:"reassembly"`
}

// ReassemblyConfig holds the receiver thresholds.
type ReassemblyConfig struct {
	InactivityTimeout    time.Duration `mapstructure:"inactivity_timeout"`
	AudioStartTimeout    time.Duration `mapstructure:"audio_start_timeout"`
	AudioIdleTimeout     time.Duration `mapstructure:"audio_idle_timeout"`
	PreAudioPromoteBytes int           `mapstructure:"pre_audio_promote_bytes"`
	AudioExpected        bool          `mapstructure:"audio_expected"`
	AcceptLegacyFrames   bool          `mapstructure:"accept_legacy_frames"`
}

// Default returns a Config with default values.
func Default() *Config {
	rc := reassembly.DefaultConfig()
	ec := reconstruct.DefaultConfig()
	return &Config{
		Host:                    "127.0.0.1",
		TCPPort:                 54321,
		UDPPort:                 54322,
		MuxAudio:                true,
		AudioTransport:          AudioTCP,
		TimestampResetGapMicros: rc.ResetGapMicros,
		PacketDelayMicros:       int(chunker.DefaultPacketDelay / time.Microsecond),
		OutputDir:               ec.OutputDir,
		FFmpegPath:              ec.FFmpegPath,
		VideoCodec:              ec.VideoCodec,
		Width:                   ec.Width,
		Height:                  ec.Height,
		LogLevel:                "info",
		LogFormat:               "text",
		HandoffTimeout:          control.DefaultHandoffTimeout,
		Reassembly: ReassemblyConfig{
			InactivityTimeout:    rc.InactivityTimeout,
			AudioStartTimeout:    rc.AudioStartTimeout,
			AudioIdleTimeout:     rc.AudioIdleTimeout,
			PreAudioPromoteBytes: rc.PreAudioPromoteBytes,
			AudioExpected:        rc.AudioExpected,
			AcceptLegacyFrames:   rc.AcceptLegacyFrames,
		},
	}
}

// Load reads configuration from path, or from pepperlink.yaml in the working
// directory or user config directory when path is empty, overlaid with the
// environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pepperlink")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "pepperlink"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"file":     v.ConfigFileUsed(),
	}).Debug("Configuration loaded")
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it on Unmarshal.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("host", cfg.Host)
	v.SetDefault("tcp_port", cfg.TCPPort)
	v.SetDefault("udp_port", cfg.UDPPort)
	v.SetDefault("mux_audio", cfg.MuxAudio)
	v.SetDefault("audio_transport", cfg.AudioTransport)
	v.SetDefault("timestamp_reset_gap_us", cfg.TimestampResetGapMicros)
	v.SetDefault("packet_delay_us", cfg.PacketDelayMicros)
	v.SetDefault("output_dir", cfg.OutputDir)
	v.SetDefault("ffmpeg_path", cfg.FFmpegPath)
	v.SetDefault("video_codec", cfg.VideoCodec)
	v.SetDefault("width", cfg.Width)
	v.SetDefault("height", cfg.Height)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("handoff_timeout", cfg.HandoffTimeout)
	v.SetDefault("reassembly.inactivity_timeout", cfg.Reassembly.InactivityTimeout)
	v.SetDefault("reassembly.audio_start_timeout", cfg.Reassembly.AudioStartTimeout)
	v.SetDefault("reassembly.audio_idle_timeout", cfg.Reassembly.AudioIdleTimeout)
	v.SetDefault("reassembly.pre_audio_promote_bytes", cfg.Reassembly.PreAudioPromoteBytes)
	v.SetDefault("reassembly.audio_expected", cfg.Reassembly.AudioExpected)
	v.SetDefault("reassembly.accept_legacy_frames", cfg.Reassembly.AcceptLegacyFrames)
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"tcp_port": c.TCPPort, "udp_port": c.UDPPort} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("%w: %s=%d", ErrBadPort, name, port)
		}
	}
	switch c.AudioTransport {
	case AudioTCP, AudioUDP:
	default:
		return fmt.Errorf("%w: %q", ErrBadAudioTransport, c.AudioTransport)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.PacketDelayMicros < 0 {
		return fmt.Errorf("packet_delay_us must not be negative, got %d", c.PacketDelayMicros)
	}
	return c.ReassemblyConfig().Validate()
}

// AudioOverControl reports whether audio travels on the TCP control channel.
func (c *Config) AudioOverControl() bool {
	return c.AudioTransport == AudioTCP
}

// TCPAddr is the control channel address.
func (c *Config) TCPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.TCPPort))
}

// UDPAddr is the datagram path address.
func (c *Config) UDPAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.UDPPort))
}

// ReassemblyConfig converts to the reassembler thresholds.
func (c *Config) ReassemblyConfig() reassembly.Config {
	return reassembly.Config{
		ResetGapMicros:       c.TimestampResetGapMicros,
		InactivityTimeout:    c.Reassembly.InactivityTimeout,
		AudioStartTimeout:    c.Reassembly.AudioStartTimeout,
		AudioIdleTimeout:     c.Reassembly.AudioIdleTimeout,
		PreAudioPromoteBytes: c.Reassembly.PreAudioPromoteBytes,
		AudioExpected:        c.Reassembly.AudioExpected,
		AcceptLegacyFrames:   c.Reassembly.AcceptLegacyFrames,
	}
}

// ReceiverConfig converts to the receiver worker configuration.
func (c *Config) ReceiverConfig() receiver.Config {
	rc := receiver.DefaultConfig()
	rc.Reassembly = c.ReassemblyConfig()
	return rc
}

// EngineConfig converts to the reconstruction engine configuration.
func (c *Config) EngineConfig() reconstruct.Config {
	ec := reconstruct.DefaultConfig()
	ec.OutputDir = c.OutputDir
	ec.MuxAudio = c.MuxAudio
	ec.FFmpegPath = c.FFmpegPath
	ec.VideoCodec = c.VideoCodec
	ec.Width = c.Width
	ec.Height = c.Height
	return ec
}

// ChunkerConfig converts to the chunker configuration.
func (c *Config) ChunkerConfig() chunker.Config {
	cc := chunker.DefaultConfig()
	cc.PacketDelay = time.Duration(c.PacketDelayMicros) * time.Microsecond
	return cc
}

// ControllerConfig converts to the receiver side of the control channel.
func (c *Config) ControllerConfig() control.ControllerConfig {
	return control.ControllerConfig{
		HandoffTimeout:   c.HandoffTimeout,
		AudioOverControl: c.AudioOverControl(),
	}
}

// SenderConfig converts to the sender role configuration.
func (c *Config) SenderConfig() sender.Config {
	sc := sender.DefaultConfig()
	sc.AudioOverControl = c.AudioOverControl()
	sc.Agent.AudioOverControl = c.AudioOverControl()
	return sc
}

// ConfigureLogging applies the log level and format to the standard logger.
func (c *Config) ConfigureLogging() error {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	logrus.SetLevel(level)
	switch c.LogFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
