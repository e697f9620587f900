package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kong"
	"github.com/opd-ai/pepperlink/config"
	"github.com/opd-ai/pepperlink/control"
	"github.com/opd-ai/pepperlink/internal/cli"
	"github.com/opd-ai/pepperlink/metrics"
	"github.com/opd-ai/pepperlink/reassembly"
	"github.com/opd-ai/pepperlink/receiver"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/opd-ai/pepperlink/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// acceptPoll bounds each wait for the sender so shutdown is observed.
const acceptPoll = time.Second

// CLI is the receiver flag model.
type CLI struct {
	cli.Common `embed:""`
	OutputDir string `name:"output-dir" help:"Directory for reconstructed videos." type:"path" default:"${output_dir}"`
	NoMux     bool   `name:"no-mux" help:"Keep video and audio as separate files."`
}

func (c *CLI) apply(cfg *config.Config) error {
	cfg.OutputDir = c.OutputDir
	if c.NoMux {
		cfg.MuxAudio = false
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
		kong.Name("pepperlink-receiver"),
		kong.Description("Receive robot video sessions and reconstruct them into video files."),
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

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
		}).WithError(err).Error("Receiver failed")
		os.Exit(1)
	}
}

// run serves one sender until the operator exits, ctx is cancelled or a
// socket fails.
func run(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	udp, err := transport.ListenUDP(cfg.UDPAddr())
	if err != nil {
		return err
	}
	defer udp.Close()

	ln, err := transport.Listen(cfg.TCPAddr())
	if err != nil {
		return err
	}
	defer ln.Close()

	reg := metrics.NewRegistry()
	m := metrics.New(reg)

	rx, err := receiver.New(cfg.ReceiverConfig(), udp, reconstruct.NewEngine(cfg.EngineConfig()),
		receiver.WithMetrics(m),
		receiver.WithArtifactHandler(reportArtifact(out)),
	)
	if err != nil {
		return err
	}
	ctrl := control.NewController(rx, cfg.ControllerConfig())
	defer ctrl.Close()

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"tcp":      ln.Addr().String(),
		"udp":      udp.LocalAddr().String(),
		"output":   cfg.OutputDir,
	}).Info("Receiver listening")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rx.Run(gctx)
	})
	g.Go(func() error {
		if err := ctrl.AcceptFrom(gctx, ln, acceptPoll); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		fmt.Fprintln(out, "sender connected")
		return nil
	})
	g.Go(func() error {
		con := &console{op: ctrl, status: rx, in: in, out: out}
		return con.Run(gctx)
	})
	cli.ServeMetrics(gctx, g, cfg.MetricsAddr, reg)

	if err := g.Wait(); err != nil && !errors.Is(err, errExit) {
		return err
	}
	return nil
}

func reportArtifact(out io.Writer) receiver.ArtifactHandler {
	return func(res reassembly.Result, art *reconstruct.Artifact, err error) {
		if err != nil {
			fmt.Fprintf(out, "session %s for patient %s failed: %v\n", res.SessionID, res.PatientID, err)
			return
		}
		fmt.Fprintf(out, "session %s for patient %s: %s (%d frames, %d fillers, %.2f fps)\n",
			res.SessionID, res.PatientID, art.Path, art.FramesWritten, art.FillersWritten, art.Plan.FPS)
	}
}
