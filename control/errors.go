package control

import (
	"errors"

	"github.com/opd-ai/pepperlink/wire"
)

var (
	// ErrUnknownCommand indicates a command outside the protocol.
	ErrUnknownCommand = wire.ErrUnknownCommand

	// ErrBadHandoff indicates the stop reply could not be parsed.
	ErrBadHandoff = errors.New("control: malformed stop handoff")

	// ErrNotConnected indicates a command was issued before a sender connected.
	ErrNotConnected = errors.New("control: no sender connected")
)
