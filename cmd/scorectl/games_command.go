package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/builtin"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
	"github.com/couchcryptid/score-import-etl/internal/scoremetric"
)

func newGamesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "games",
		Short: "List configured games",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			games, err := gameconfig.Load()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(games.Games()))
			for _, id := range games.Games() {
				g, _ := games.Game(id)
				pts := make([]string, 0, len(g.Playtypes))
				for _, pt := range g.PlaytypeNames() {
					pts = append(pts, string(pt))
				}
				rows = append(rows, []string{
					string(id),
					g.Name,
					strings.Join(pts, ", "),
					strings.Join(g.Versions, ", "),
					string(g.Percent.Formula),
					strconv.Itoa(len(g.Lamps)),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Game", "Name", "Playtypes", "Versions", "Percent", "Lamps"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newTypesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List supported import types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := offlineRegistry(catalog.NewMemory(nil, nil), opts.logger(cmd))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range reg.Types() {
				fmt.Fprintln(out, t)
			}
			return nil
		},
	}
}

// offlineRegistry builds every built-in parser over cat.
func offlineRegistry(cat catalog.Catalog, logger *slog.Logger) (*format.Registry, error) {
	games, err := gameconfig.Load()
	if err != nil {
		return nil, err
	}
	return builtin.Registry(format.NewKit(cat, scoremetric.New(games, logger)))
}
