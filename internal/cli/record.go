package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/output"
	"github.com/MrWong99/huddle/internal/session"
	"github.com/MrWong99/huddle/pkg/audio"
)

// finishTimeout bounds delivery of the tail and finalization after the user
// stops a recording.
const finishTimeout = 2 * time.Minute

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var (
		duration     time.Duration
		title        string
		participants string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a meeting",
		Long: "Record from the default microphone and stream the audio to the backend.\n" +
			"Press Ctrl+C to finish; the meeting note is printed once the backend has finalized it.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []session.Option{
				session.WithTitle(title),
				session.WithParticipants(strings.Split(participants, ",")...),
			}
			return runRecord(cmd.Context(), deps, output.NewFormatter(cmd.OutOrStdout()), duration, opts)
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop automatically after this long (0 records until Ctrl+C)")
	cmd.Flags().StringVarP(&title, "title", "t", "", "meeting title (default \"Project Sync - <start time>\")")
	cmd.Flags().StringVarP(&participants, "participants", "p", "", "comma-separated list of attendees")

	return cmd
}

func runRecord(ctx context.Context, deps *Dependencies, f *output.Formatter, duration time.Duration, opts []session.Option) error {
	orch := deps.App.Orchestrator()

	info, err := orch.StartSession(ctx, opts...)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) {
			return fmt.Errorf("%w. Allow microphone access for this terminal and try again", err)
		}
		return err
	}
	f.RecordingStarted(info)

	// The admin endpoints are served for as long as the recording runs.
	serveCtx, stopServe := context.WithCancel(ctx)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := deps.App.Run(serveCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("admin server stopped", "err", err)
		}
	}()

	var timeout <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-ctx.Done():
	case <-timeout:
	}
	stopServe()
	<-served

	f.RecordingStopped(time.Since(info.StartedAt))
	f.Finalizing()

	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	note, err := orch.FinishSession(finishCtx)
	if err != nil {
		return err
	}
	if note == nil {
		return errors.New("recording ended without a session")
	}
	f.Note(*note)
	return nil
}
