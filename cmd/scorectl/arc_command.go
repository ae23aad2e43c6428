package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/score-import-etl/internal/adapter/arc"
	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/arcsdvx"
	"github.com/couchcryptid/score-import-etl/internal/observability"
	"github.com/couchcryptid/score-import-etl/internal/pipeline"
)

type arcFlags struct {
	catalogFlags
	baseURL    string
	token      string
	version    string
	timeout    time.Duration
	jsonOutput bool
}

func newARCCommand(opts *options) *cobra.Command {
	flags := &arcFlags{}

	cmd := &cobra.Command{
		Use:   "arc <profile-id>",
		Short: "Pull a profile's SDVX bests from ARC and convert them",
		Long: "Fetch every player_bests page for the profile and convert each page as api/arc-sdvx.\n" +
			"The API token is read from --token or ARC_TOKEN.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runARC(cmd, opts, flags, args[0])
		},
	}

	flags.catalogFlags.register(cmd)
	cmd.Flags().StringVar(&flags.baseURL, "base-url", "", "ARC API base URL")
	cmd.Flags().StringVar(&flags.token, "token", "", "ARC API token (default $ARC_TOKEN)")
	cmd.Flags().StringVar(&flags.version, "version", arcsdvx.DefaultVersion, "SDVX version to pull")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 10*time.Second, "Per-request timeout")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the results as a JSON array, one per page")
	_ = cmd.MarkFlagRequired("base-url")

	return cmd
}

func runARC(cmd *cobra.Command, opts *options, flags *arcFlags, profileID string) error {
	token := flags.token
	if token == "" {
		token = os.Getenv("ARC_TOKEN")
	}
	if token == "" {
		return errors.New("no ARC token: set --token or ARC_TOKEN")
	}

	metrics := observability.NewMetricsForTesting()
	logger := opts.logger(cmd)

	cat, closeCat, err := flags.open(metrics)
	if err != nil {
		return err
	}
	defer closeCat()

	reg, err := offlineRegistry(cat, logger)
	if err != nil {
		return err
	}
	orch := pipeline.NewOrchestrator(reg, nil, logger, metrics, clockwork.NewRealClock(), 8)

	client := arc.NewClient(flags.baseURL, token, flags.timeout, logger)
	pages, err := client.PlayerBests(cmd.Context(), profileID, flags.version)
	if err != nil {
		return err
	}

	meta := format.RequestMeta{Options: map[string]string{arcsdvx.OptionVersion: flags.version}}
	results := make([]pipeline.Result, 0, len(pages))
	for i, page := range pages {
		res, err := orch.Import(cmd.Context(), domain.ImportARCSDVX, page, meta)
		if err != nil {
			var fatal *domain.FatalError
			if errors.As(err, &fatal) {
				return fmt.Errorf("page %d rejected (%d): %s", i+1, fatal.Status, fatal.Message)
			}
			return fmt.Errorf("page %d: %w", i+1, err)
		}
		results = append(results, res)
	}

	if flags.jsonOutput {
		return writeJSON(cmd, results)
	}
	for _, res := range results {
		printResult(cmd.OutOrStdout(), res)
	}
	return nil
}
