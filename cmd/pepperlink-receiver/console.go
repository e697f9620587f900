package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/opd-ai/pepperlink/receiver"
	"github.com/sirupsen/logrus"
)

// errExit ends the console after the sender was told to exit.
var errExit = errors.New("operator requested exit")

// Operator is the command surface the console drives.
type Operator interface {
	Start(ctx context.Context, patientID string) error
	Stop(ctx context.Context) (int, error)
	Speak(ctx context.Context, text string) error
	Sleep(ctx context.Context) error
	Wake(ctx context.Context) error
	Exit(ctx context.Context) error
}

// StatusSource reports the receiver state.
type StatusSource interface {
	Status() receiver.Status
}

type console struct {
	op     Operator
	status StatusSource
	in     io.Reader
	out    io.Writer
}

// Run reads commands until EOF, exit or cancellation. Command failures are
// reported and the console keeps going.
func (c *console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := c.execute(ctx, line); err != nil {
				if errors.Is(err, errExit) {
					return err
				}
				fmt.Fprintf(c.out, "error: %v\n", err)
				logrus.WithFields(logrus.Fields{
					"function": "console.Run",
					"command":  line,
				}).WithError(err).Warn("Command failed")
			}
		}
	}
}

func (c *console) execute(ctx context.Context, line string) error {
	name, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch strings.ToLower(name) {
	case "":
		return nil
	case "start":
		if arg == "" {
			return errors.New("usage: start <patient-id>")
		}
		if err := c.op.Start(ctx, arg); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "capturing patient %s\n", arg)
	case "stop":
		remaining, err := c.op.Stop(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "stopped, %d frames still in flight\n", remaining)
	case "say":
		return c.op.Speak(ctx, arg)
	case "sleep":
		return c.op.Sleep(ctx)
	case "wake":
		return c.op.Wake(ctx)
	case "status":
		st := c.status.Status()
		fmt.Fprintf(c.out, "state=%s frames=%d countdown=%d sessions=%d last=%s\n",
			st.State, st.Frames, st.Countdown, st.Sessions, st.LastArtifact)
	case "exit", "quit":
		if err := c.op.Exit(ctx); err != nil {
			logrus.WithField("function", "console.execute").WithError(err).Warn("Exit not delivered")
		}
		return errExit
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}
