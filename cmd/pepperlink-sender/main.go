package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/opd-ai/pepperlink/chunker"
	"github.com/opd-ai/pepperlink/config"
	"github.com/opd-ai/pepperlink/internal/cli"
	"github.com/opd-ai/pepperlink/metrics"
	"github.com/opd-ai/pepperlink/sender"
	"github.com/opd-ai/pepperlink/sim"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Dial pacing for reaching the receiver.
const (
	dialTimeout = 5 * time.Second
	dialBackoff = time.Second
)

// CLI is the sender flag model.
type CLI struct {
	cli.Common `embed:""`
	PacketDelayUS int  `name:"packet-delay-us" help:"Pause after every datagram, in microseconds." default:"${packet_delay_us}"`
	FPS           int  `help:"Camera frame rate." default:"15"`
	Width         int  `help:"Camera width." default:"320"`
	Height        int  `help:"Camera height." default:"240"`
	NoAudio       bool `name:"no-audio" help:"Run without a microphone."`
}

func (c *CLI) apply(cfg *config.Config) error {
	cfg.PacketDelayMicros = c.PacketDelayUS
	if c.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", c.FPS)
	}
	return c.Common.Apply(cfg)
}

func main() {
	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
		cfg = config.Default()
	}

	var c CLI
	kong.Parse(&c,
		kong.Name("pepperlink-sender"),
		kong.Description("Stream synthetic robot captures to a pepperlink receiver."),
		kong.UsageOnError(),
		cli.Vars(cfg),
	)
	if err := c.apply(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ConfigureLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(context.Background())
	defer cancel()

	if err := run(ctx, cfg, &c); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
		}).WithError(err).Error("Sender failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, c *CLI) error {
	udp, err := transport.DialUDP(cfg.UDPAddr())
	if err != nil {
		return err
	}
	defer udp.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	ch, err := chunker.New(udp, cfg.ChunkerConfig(), nil)
	if err != nil {
		return err
	}

	camera := sim.NewCamera(sim.CameraConfig{Width: c.Width, Height: c.Height, FPS: c.FPS}, nil)
	opts := []sender.Option{
		sender.WithMetrics(m),
		sender.WithRobot(sim.NewRobot()),
	}
	if !c.NoAudio {
		opts = append(opts, sender.WithMicrophone(sim.NewMicrophone(sim.DefaultMicrophoneConfig(), nil)))
	}
	s, err := sender.New(cfg.SenderConfig(), ch, camera, opts...)
	if err != nil {
		return err
	}

	conn, err := dialReceiver(ctx, cfg.TCPAddr())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.Run(gctx, conn)
	})
	cli.ServeMetrics(gctx, g, cfg.MetricsAddr, reg)
	return g.Wait()
}

// dialReceiver retries until the receiver accepts or ctx is cancelled.
func dialReceiver(ctx context.Context, addr string) (*transport.StreamConn, error) {
	for {
		conn, err := transport.Dial(ctx, addr, dialTimeout)
		if err == nil {
			logrus.WithFields(logrus.Fields{
				"function": "dialReceiver",
				"addr":     addr,
			}).Info("Connected to receiver")
			return conn, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "dialReceiver",
			"addr":     addr,
		}).WithError(err).Debug("Receiver not reachable, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(dialBackoff):
		}
	}
}
