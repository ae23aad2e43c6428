// Package builtin registers every format the service ships with.
package builtin

import (
	"fmt"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/arcsdvx"
	"github.com/couchcryptid/score-import-etl/internal/format/batchmanual"
	"github.com/couchcryptid/score-import-etl/internal/format/fervidex"
	"github.com/couchcryptid/score-import-etl/internal/format/iidxcsv"
	"github.com/couchcryptid/score-import-etl/internal/schema"
)

// Registry returns a registry holding every built-in parser.
func Registry(kit *format.Kit) (*format.Registry, error) {
	schemas, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	batchFile, err := batchmanual.New(domain.ImportBatchManual, kit, schemas)
	if err != nil {
		return nil, err
	}
	batchDirect, err := batchmanual.New(domain.ImportDirectManual, kit, schemas)
	if err != nil {
		return nil, err
	}

	reg := format.NewRegistry()
	for _, p := range []format.Parser{
		batchFile,
		batchDirect,
		iidxcsv.New(kit),
		arcsdvx.New(kit, schemas),
		fervidex.New(kit, schemas),
	} {
		if err := reg.Register(p); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
