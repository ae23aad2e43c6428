package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

type options struct {
	logLevel string
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "scorectl",
		Short:         "Convert and inspect rhythm game score submissions",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "Log level written to stderr (debug, info, warn, error)")

	rootCmd.AddCommand(newConvertCommand(opts))
	rootCmd.AddCommand(newARCCommand(opts))
	rootCmd.AddCommand(newGamesCommand())
	rootCmd.AddCommand(newTypesCommand(opts))

	return rootCmd
}
