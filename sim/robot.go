package sim

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Robot logs the commands a physical robot would perform and remembers
// them in order.
type Robot struct {
	mu    sync.Mutex
	calls []string
}

// NewRobot creates a logging robot.
func NewRobot() *Robot {
	return &Robot{}
}

// Say logs the text.
func (r *Robot) Say(text string) error {
	logrus.WithFields(logrus.Fields{
		"function": "Robot.Say",
		"text":     text,
	}).Info("Speaking")
	r.record("say:" + text)
	return nil
}

// Rest logs a rest posture.
func (r *Robot) Rest() error {
	logrus.WithField("function", "Robot.Rest").Info("Resting")
	r.record("rest")
	return nil
}

// WakeUp logs a wake posture.
func (r *Robot) WakeUp() error {
	logrus.WithField("function", "Robot.WakeUp").Info("Waking up")
	r.record("wake")
	return nil
}

// Calls returns the commands performed so far.
func (r *Robot) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *Robot) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}
