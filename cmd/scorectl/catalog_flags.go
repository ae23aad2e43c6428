package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/score-import-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

// catalogFlags selects the chart catalog for offline conversion.
type catalogFlags struct {
	seed      string
	catalogDB string
}

func (f *catalogFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.seed, "seed", "", "YAML or JSON catalog seed file")
	cmd.Flags().StringVar(&f.catalogDB, "catalog", "", "SQLite catalog database")
	cmd.MarkFlagsMutuallyExclusive("seed", "catalog")
}

// open returns the selected catalog and a func releasing it. With neither
// flag set the catalog is empty and every record fails with DataNotFound.
func (f *catalogFlags) open(metrics *observability.Metrics) (catalog.Catalog, func(), error) {
	switch {
	case f.catalogDB != "":
		store, err := sqlite.Open(f.catalogDB, metrics)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case f.seed != "":
		data, err := os.ReadFile(f.seed)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog seed: %w", err)
		}
		mem, err := catalog.ParseSeed(data)
		if err != nil {
			return nil, nil, err
		}
		return mem, func() {}, nil
	default:
		return catalog.NewMemory(nil, nil), func() {}, nil
	}
}
