package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/observability"
	"github.com/couchcryptid/score-import-etl/internal/pipeline"
)

type convertFlags struct {
	catalogFlags
	importType  string
	options     map[string]string
	headers     map[string]string
	concurrency int
	jsonOutput  bool
}

func newConvertCommand(opts *options) *cobra.Command {
	flags := &convertFlags{}

	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Convert a score file without publishing it",
		Long: "Parse and convert a submission exactly as the service would, printing one row per record.\n" +
			"Use - to read the submission from stdin.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConvert(cmd, opts, flags, args[0])
		},
	}

	cmd.Flags().StringVarP(&flags.importType, "type", "t", "", "Import type, e.g. file/batch-manual")
	flags.catalogFlags.register(cmd)
	cmd.Flags().StringToStringVarP(&flags.options, "option", "o", nil, "Parser option as key=value (repeatable)")
	cmd.Flags().StringToStringVar(&flags.headers, "header", nil, "Request header as name=value (repeatable)")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 8, "Records converted in parallel")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runConvert(cmd *cobra.Command, opts *options, flags *convertFlags, path string) error {
	payload, err := readInput(cmd, path)
	if err != nil {
		return err
	}

	// Unregistered: the CLI serves no /metrics endpoint.
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
	orch := pipeline.NewOrchestrator(reg, nil, logger, metrics, clockwork.NewRealClock(), flags.concurrency)

	meta := format.RequestMeta{Header: http.Header{}, Options: flags.options}
	for k, v := range flags.headers {
		meta.Header.Set(k, v)
	}

	res, err := orch.Import(cmd.Context(), domain.ImportType(flags.importType), payload, meta)
	if err != nil {
		var fatal *domain.FatalError
		if errors.As(err, &fatal) {
			return fmt.Errorf("submission rejected (%d): %s", fatal.Status, fatal.Message)
		}
		return err
	}

	if flags.jsonOutput {
		return writeJSON(cmd, res)
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read submission: %w", err)
	}
	return data, nil
}

func printResult(out io.Writer, res pipeline.Result) {
	rows := make([][]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		row := []string{strconv.Itoa(o.Index), string(o.Status)}
		if o.Score != nil {
			sd := o.Score.ScoreData
			row = append(row,
				o.Score.ChartID,
				sd.Lamp,
				strconv.FormatFloat(sd.Score, 'f', -1, 64),
				strconv.FormatFloat(sd.Percent, 'f', 2, 64),
				sd.Grade,
				"",
			)
		} else {
			row = append(row, "", "", "", "", "", fmt.Sprintf("%s: %s", o.Kind, o.Reason))
		}
		rows = append(rows, row)
	}

	fmt.Fprintln(out, renderTable(
		[]string{"#", "Status", "Chart", "Lamp", "Score", "Percent", "Grade", "Reason"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
	fmt.Fprintf(out, "%s %s: %d imported, %d failed (import %s)\n",
		res.Context.Game, res.ImportType, res.Imported, res.Failed, res.ImportID)
}
