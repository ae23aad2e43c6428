// Package format defines the contract between source formats and the import
// orchestrator.
//
// A [Parser] validates a raw payload's envelope and splits it into typed
// records. Each record is bound to the [Converter] of its format with
// [NewSubmission], so the orchestrator can convert any format's records
// without knowing their shape. Envelope defects are reported as
// *domain.FatalError and nothing is converted.
package format

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/couchcryptid/score-import-etl/internal/domain"
)

// RequestMeta carries request data that is not part of the payload: HTTP
// headers from IR clients and options such as the playtype of a CSV export.
type RequestMeta struct {
	Header  http.Header
	Options map[string]string
}

// Option returns the named option, or "" if unset.
func (m RequestMeta) Option(name string) string {
	return m.Options[name]
}

// HeaderValue returns the first value of the named header.
func (m RequestMeta) HeaderValue(name string) string {
	if m.Header == nil {
		return ""
	}
	return m.Header.Get(name)
}

// Converter turns one raw record of type R into a canonical score. It
// returns a DataNotFound, InvalidScore or Internal error for bad records and
// only returns a FatalError it received from a collaborator.
type Converter[R any] interface {
	Convert(ctx context.Context, record R, ictx domain.ImportContext) (domain.DryScore, error)
}

// ConverterFunc adapts a function to the Converter interface.
type ConverterFunc[R any] func(ctx context.Context, record R, ictx domain.ImportContext) (domain.DryScore, error)

func (f ConverterFunc[R]) Convert(ctx context.Context, record R, ictx domain.ImportContext) (domain.DryScore, error) {
	return f(ctx, record, ictx)
}

// Record is one raw record bound to its format's converter.
type Record struct {
	// Raw is the parsed source record, kept for failure reports.
	Raw     any
	convert func(ctx context.Context) (domain.DryScore, error)
}

// Convert runs the bound converter.
func (r Record) Convert(ctx context.Context) (domain.DryScore, error) {
	if r.convert == nil {
		return domain.DryScore{}, domain.Internalf("record has no converter")
	}
	return r.convert(ctx)
}

// Submission is the parsed form of one payload.
type Submission struct {
	Game    domain.Game
	Context domain.ImportContext
	Records []Record
}

// NewSubmission binds every record to conv under the shared import context.
func NewSubmission[R any](ictx domain.ImportContext, records []R, conv Converter[R]) *Submission {
	bound := make([]Record, len(records))
	for i := range records {
		rec := records[i]
		bound[i] = Record{
			Raw: rec,
			convert: func(ctx context.Context) (domain.DryScore, error) {
				return conv.Convert(ctx, rec, ictx)
			},
		}
	}
	return &Submission{Game: ictx.Game, Context: ictx, Records: bound}
}

// Parser validates and splits a payload of one import type.
type Parser interface {
	ImportType() domain.ImportType
	Parse(ctx context.Context, payload []byte, meta RequestMeta) (*Submission, error)
}

// Registry maps import types to parsers. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	parsers map[domain.ImportType]Parser
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[domain.ImportType]Parser)}
}

// Register adds a parser. Registering the same import type twice is an error.
func (r *Registry) Register(p Parser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := p.ImportType()
	if _, dup := r.parsers[t]; dup {
		return fmt.Errorf("parser for %s already registered", t)
	}
	r.parsers[t] = p
	return nil
}

// Lookup returns the parser for an import type.
func (r *Registry) Lookup(t domain.ImportType) (Parser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parsers[t]
	return p, ok
}

// Types lists the registered import types in name order.
func (r *Registry) Types() []domain.ImportType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.ImportType, 0, len(r.parsers))
	for t := range r.parsers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
