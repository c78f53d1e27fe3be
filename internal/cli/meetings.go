package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/meeting"
	"github.com/MrWong99/huddle/internal/output"
)

func NewMeetingsCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "meetings",
		Short: "List archived meeting notes",
		Long:  "List archived meeting notes, newest first. Notes are only kept across runs when archive.postgres_dsn is configured.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())

			notes, err := deps.App.Orchestrator().Archive().List(cmd.Context())
			if err != nil {
				return err
			}
			if len(notes) == 0 {
				f.Info("No meetings found")
				return nil
			}

			f.MeetingListHeader()
			for _, n := range notes {
				f.MeetingListItem(n)
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print one meeting note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := deps.App.Orchestrator().Archive().Get(cmd.Context(), args[0])
			if errors.Is(err, meeting.ErrNotFound) {
				return fmt.Errorf("no meeting with id %q", args[0])
			}
			if err != nil {
				return err
			}
			output.NewFormatter(cmd.OutOrStdout()).Note(n)
			return nil
		},
	})

	return cmd
}
