package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/output"
)

func NewDoctorCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the backend, microphone and archive are usable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())

			f.SetupCheck("config", true, deps.ConfigPath)
			f.SetupCheck("backend url", true, deps.App.Config().Backend.URL)

			rep := deps.App.Doctor(cmd.Context())
			for _, r := range rep.Results {
				if r.OK() {
					f.SetupCheck(r.Name, true, "ok ("+r.Duration.Round(time.Millisecond).String()+")")
				} else {
					f.SetupCheck(r.Name, false, r.Err.Error())
				}
			}

			if rep.OK() {
				f.Success("\nAll checks passed. Ready to record!")
			} else {
				f.Warning("\nSome checks failed.")
			}
			return nil
		},
	}
}
