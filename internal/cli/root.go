package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MrWong99/huddle/internal/app"
	"github.com/MrWong99/huddle/internal/config"
	"github.com/MrWong99/huddle/internal/version"
)

// annotationNoApp marks commands that run without building the app.
const annotationNoApp = "huddle/no-app"

type Dependencies struct {
	// ConfigPath is bound to the --config flag.
	ConfigPath string

	Config *config.Config
	App    *app.App

	Out io.Writer
	In  io.Reader

	// Setup loads the config and builds App before a command runs. It is
	// skipped when App is already set.
	Setup func(ctx context.Context, deps *Dependencies) error
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "huddle",
		Short: "Record meetings and ask questions about them",
		Long: "huddle streams microphone audio to a meeting backend, which turns it into notes.\n" +
			"Finished meetings can be queried in plain language.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[annotationNoApp] != "" || deps.App != nil || deps.Setup == nil {
				return nil
			}
			return deps.Setup(cmd.Context(), deps)
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVarP(&deps.ConfigPath, "config", "c", "huddle.yaml",
		"path to the YAML configuration file (optional)")

	if deps.Out != nil {
		rootCmd.SetOut(deps.Out)
	}
	if deps.In != nil {
		rootCmd.SetIn(deps.In)
	}

	rootCmd.AddCommand(NewRecordCmd(deps))
	rootCmd.AddCommand(NewAskCmd(deps))
	rootCmd.AddCommand(NewChatCmd(deps))
	rootCmd.AddCommand(NewMeetingsCmd(deps))
	rootCmd.AddCommand(NewDoctorCmd(deps))
	rootCmd.AddCommand(NewVersionCmd())

	return rootCmd
}

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print build information",
		Annotations: map[string]string{annotationNoApp: "true"},
		Args:        cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Full())
		},
	}
}
