package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/conversation"
	"github.com/MrWong99/huddle/internal/output"
)

func NewAskCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question about past meetings",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := deps.App.Orchestrator()
			printAnswers(orch.Conversation(), output.NewFormatter(cmd.OutOrStdout()))

			ctx := cmd.Context()
			if err := orch.SubmitQuery(ctx, strings.Join(args, " ")); err != nil {
				return err
			}
			return orch.WaitIdle(ctx)
		},
	}
}

// printAnswers streams assistant turns of log to f as they change.
func printAnswers(log *conversation.Log, f *output.Formatter) {
	streaming := false
	log.Observe(func(u conversation.Update) {
		if u.Turn.Role != conversation.RoleAssistant {
			return
		}
		switch {
		case u.Delta != "":
			streaming = true
			f.Delta(u.Delta)
		case u.Turn.Open:
		case streaming:
			streaming = false
			f.EndAnswer()
		default:
			f.Answer(u.Turn)
		}
	})
}
