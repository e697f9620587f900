package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/opd-ai/pepperlink/config"
	"github.com/opd-ai/pepperlink/control"
	"github.com/opd-ai/pepperlink/internal/cli"
	"github.com/opd-ai/pepperlink/reassembly"
	"github.com/opd-ai/pepperlink/receiver"
	"github.com/opd-ai/pepperlink/reconstruct"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOperator struct {
	mu      sync.Mutex
	calls   []string
	stopErr error
}

func (f *fakeOperator) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeOperator) Start(_ context.Context, id string) error {
	f.record("start " + id)
	return nil
}

func (f *fakeOperator) Stop(context.Context) (int, error) {
	f.record("stop")
	return 3, f.stopErr
}

func (f *fakeOperator) Speak(_ context.Context, text string) error {
	f.record("say " + text)
	return nil
}

func (f *fakeOperator) Sleep(context.Context) error {
	f.record("sleep")
	return nil
}

func (f *fakeOperator) Wake(context.Context) error {
	f.record("wake")
	return nil
}

func (f *fakeOperator) Exit(context.Context) error {
	f.record("exit")
	return nil
}

type fixedStatus struct{ st receiver.Status }

func (f fixedStatus) Status() receiver.Status { return f.st }

func TestConsole_DispatchesCommands(t *testing.T) {
	op := &fakeOperator{}
	var out bytes.Buffer
	con := &console{
		op:     op,
		status: fixedStatus{},
		in:     strings.NewReader("start 42\n\nsay hello there\nSLEEP\nwake\nstop\nbogus\nexit\nstart 43\n"),
		out:    &out,
	}

	err := con.Run(context.Background())
	assert.ErrorIs(t, err, errExit)
	assert.Equal(t, []string{"start 42", "say hello there", "sleep", "wake", "stop", "exit"}, op.calls)
	assert.Contains(t, out.String(), "capturing patient 42")
	assert.Contains(t, out.String(), "3 frames still in flight")
	assert.Contains(t, out.String(), `unknown command "bogus"`)
}

func TestConsole_ReportsErrorsAndContinues(t *testing.T) {
	op := &fakeOperator{stopErr: control.ErrNotConnected}
	var out bytes.Buffer
	con := &console{op: op, status: fixedStatus{}, in: strings.NewReader("start\nstop\nwake\n"), out: &out}

	require.NoError(t, con.Run(context.Background()))
	assert.Equal(t, []string{"stop", "wake"}, op.calls)
	assert.Contains(t, out.String(), "usage: start <patient-id>")
	assert.Contains(t, out.String(), control.ErrNotConnected.Error())
}

func TestConsole_Status(t *testing.T) {
	st := receiver.Status{Sessions: 2, LastArtifact: "/videos/a.mp4"}
	st.State = reassembly.StateCapturing
	st.Frames = 7
	st.Countdown = -1

	var out bytes.Buffer
	con := &console{op: &fakeOperator{}, status: fixedStatus{st: st}, in: strings.NewReader("status\n"), out: &out}
	require.NoError(t, con.Run(context.Background()))
	assert.Equal(t, "state=capturing frames=7 countdown=-1 sessions=2 last=/videos/a.mp4\n", out.String())
}

func TestCLI_Apply(t *testing.T) {
	cfg := config.Default()
	var c CLI
	parser, err := kong.New(&c, cli.Vars(cfg))
	require.NoError(t, err)
	_, err = parser.Parse([]string{"--output-dir", "/tmp/out", "--no-mux", "--udp-port", "6000"})
	require.NoError(t, err)

	require.NoError(t, c.apply(cfg))
	assert.Equal(t, "/tmp/out", cfg.EngineConfig().OutputDir)
	assert.False(t, cfg.EngineConfig().MuxAudio)
	assert.Equal(t, 6000, cfg.UDPPort)
}

func TestReportArtifact(t *testing.T) {
	var out bytes.Buffer
	report := reportArtifact(&out)

	res := reassembly.Result{SessionID: "s1", PatientID: "42"}
	report(res, &reconstruct.Artifact{Path: "v.mp4", FramesWritten: 5, Plan: reconstruct.Plan{FPS: 12.5}}, nil)
	report(res, nil, errors.New("no frames"))

	assert.Equal(t,
		"session s1 for patient 42: v.mp4 (5 frames, 0 fillers, 12.50 fps)\n"+
			"session s1 for patient 42 failed: no frames\n",
		out.String())
}
