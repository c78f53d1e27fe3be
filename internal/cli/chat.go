package cli

import (
	"bufio"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/app"
	"github.com/MrWong99/huddle/internal/output"
)

func NewChatCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Ask questions about past meetings interactively",
		Long:  "Read questions from standard input, one per line, and stream each answer.\nType \"exit\" or press Ctrl+D to leave.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			orch := deps.App.Orchestrator()
			f := output.NewFormatter(cmd.OutOrStdout())
			printAnswers(orch.Conversation(), f)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				f.Prompt()
				if !scanner.Scan() {
					f.EndAnswer()
					return scanner.Err()
				}
				line := strings.TrimSpace(scanner.Text())
				switch line {
				case "":
					continue
				case "exit", "quit":
					return nil
				}

				err := orch.SubmitQuery(ctx, line)
				switch {
				case errors.Is(err, app.ErrQueryInFlight):
					f.Warning("Still waiting for the previous answer.")
					continue
				case err != nil:
					return err
				}
				if err := orch.WaitIdle(ctx); err != nil {
					return err
				}
			}
		},
	}
}
