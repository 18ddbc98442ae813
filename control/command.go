// Package control validates operator commands and forwards them to whatever
// drives the camera platform.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Command string

const (
	Front     Command = "Front"
	Back      Command = "Back"
	Left      Command = "Left"
	Right     Command = "Right"
	Stop      Command = "Stop"
	Handshake Command = "Handshake"
)

// Commands is the allowed set, in display order.
var Commands = []Command{Front, Back, Left, Right, Stop, Handshake}

var ErrUnknownCommand = errors.New("control: unknown command")

// Parse accepts exactly the names in Commands; matching is case-sensitive.
func Parse(s string) (Command, error) {
	for _, c := range Commands {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCommand, s)
}

// Event is an accepted command as forwarded to publishers.
type Event struct {
	Cmd    Command `json:"cmd"`
	Source string  `json:"source,omitempty"`
	TS     int64   `json:"ts"`
}

func NewEvent(cmd Command, source string) Event {
	return Event{Cmd: cmd, Source: source, TS: time.Now().UnixMilli()}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// LogPublisher only records commands in the log.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, ev Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("control: command", "cmd", ev.Cmd, "source", ev.Source)
	return nil
}
