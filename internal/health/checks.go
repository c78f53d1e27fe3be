package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/huddle/pkg/audio"
)

// Pinger is anything that can report whether a remote dependency answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Backend checks that the meeting backend answers.
func Backend(p Pinger) Checker {
	return Checker{Name: "backend", Check: p.Ping}
}

// Archive checks that the note archive is reachable.
func Archive(p Pinger) Checker {
	return Checker{Name: "archive", Check: p.Ping}
}

// Microphone checks that dev can be opened, then releases it immediately.
func Microphone(dev audio.Device) Checker {
	return Checker{Name: "microphone", Check: func(ctx context.Context) error {
		s, err := dev.Open(ctx)
		if err != nil {
			return err
		}
		if err := s.Close(); err != nil {
			return fmt.Errorf("close stream: %w", err)
		}
		return nil
	}}
}
