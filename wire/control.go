package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Control command names.
const (
	CommandStart = "start"
	CommandStop  = "stop"
	CommandExit  = "exit"
	CommandSpeak = "speak"
	CommandSleep = "sleep"
	CommandWake  = "wake"
)

// Audio handoff prefixes on the reliable channel.
const (
	AudioLenPrefix = "AUDIO_LEN:"
	AudioNoneLine  = "AUDIO_NONE"
)

var (
	// ErrEmptyCommand indicates a blank control line.
	ErrEmptyCommand = errors.New("empty command")

	// ErrUnknownCommand indicates a command name outside the protocol.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrBadCount indicates a malformed stop handoff line.
	ErrBadCount = errors.New("malformed frame count")

	// ErrBadAudioHeader indicates a malformed audio handoff line.
	ErrBadAudioHeader = errors.New("malformed audio header")
)

// Command is one parsed control command.
type Command struct {
	Name string
	// Arg is everything after the name, trimmed. Patient id for start,
	// the text for speak, empty otherwise.
	Arg string
}

// String renders the command as it travels on the wire, without the newline.
func (c Command) String() string {
	if c.Arg == "" {
		return c.Name
	}
	return c.Name + " " + c.Arg
}

// Line renders the command with its terminating newline.
func (c Command) Line() []byte {
	return []byte(c.String() + "\n")
}

// ParseCommand parses one control line.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Command{}, ErrEmptyCommand
	}

	name, arg, _ := strings.Cut(line, " ")
	cmd := Command{Name: strings.ToLower(name), Arg: strings.TrimSpace(arg)}

	switch cmd.Name {
	case CommandStart, CommandStop, CommandExit, CommandSleep, CommandWake:
		return cmd, nil
	case CommandSpeak:
		if cmd.Arg == "" {
			return Command{}, fmt.Errorf("%w: speak requires text", ErrUnknownCommand)
		}
		return cmd, nil
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
}

// FormatCount renders the stop handoff line.
func FormatCount(remaining int) []byte {
	return []byte(strconv.Itoa(remaining) + "\n")
}

// ParseCount parses the stop handoff line.
func ParseCount(line string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadCount, line)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: negative count %d", ErrBadCount, n)
	}
	return n, nil
}

// FormatAudioLen renders the audio length line.
func FormatAudioLen(n int) []byte {
	return []byte(AudioLenPrefix + strconv.Itoa(n) + "\n")
}

// FormatAudioNone renders the no-audio line.
func FormatAudioNone() []byte {
	return []byte(AudioNoneLine + "\n")
}

// ParseAudioHeader parses the line preceding direct audio. It returns the
// byte count that follows, or none=true for AUDIO_NONE.
func ParseAudioHeader(line string) (n int, none bool, err error) {
	line = strings.TrimSpace(line)
	if line == AudioNoneLine {
		return 0, true, nil
	}
	rest, ok := strings.CutPrefix(line, AudioLenPrefix)
	if !ok {
		return 0, false, fmt.Errorf("%w: %q", ErrBadAudioHeader, line)
	}
	n, err = strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%w: %q", ErrBadAudioHeader, line)
	}
	return n, false, nil
}
