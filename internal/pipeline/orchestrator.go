package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

// ErrLoadScores marks a failure to hand converted scores to the loader. The
// submission itself was valid and may be retried.
var ErrLoadScores = errors.New("load scores")

// ScoreLoader receives the scores of every import that converted at least
// one record.
type ScoreLoader interface {
	LoadScores(ctx context.Context, importID string, scores []domain.DryScore) error
}

// Metric label for requests naming an unregistered import type.
const unknownImportType domain.ImportType = "unknown"

// Status is the outcome of one record.
type Status string

const (
	StatusImported Status = "imported"
	StatusFailed   Status = "failed"
)

// Outcome reports what happened to the record at Index of the submission.
type Outcome struct {
	Index  int                `json:"index"`
	Status Status             `json:"status"`
	Score  *domain.DryScore   `json:"score,omitempty"`
	Kind   domain.FailureKind `json:"kind,omitempty"`
	Reason string             `json:"reason,omitempty"`
}

// Result summarizes one import. Outcomes has one entry per parsed record, in
// submission order.
type Result struct {
	ImportID   string               `json:"importID"`
	ImportType domain.ImportType    `json:"importType"`
	Context    domain.ImportContext `json:"context"`
	StartedAt  time.Time            `json:"startedAt"`
	FinishedAt time.Time            `json:"finishedAt"`
	Imported   int                  `json:"imported"`
	Failed     int                  `json:"failed"`
	Outcomes   []Outcome            `json:"outcomes"`
}

// Scores returns the converted scores in submission order.
func (r Result) Scores() []domain.DryScore {
	scores := make([]domain.DryScore, 0, r.Imported)
	for _, o := range r.Outcomes {
		if o.Score != nil {
			scores = append(scores, *o.Score)
		}
	}
	return scores
}

// Orchestrator parses a submission with the registered parser and converts
// its records concurrently.
type Orchestrator struct {
	registry    *format.Registry
	loader      ScoreLoader
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	concurrency int
}

// NewOrchestrator creates an Orchestrator. loader may be nil, in which case
// scores are only returned. At most concurrency records convert at once.
func NewOrchestrator(reg *format.Registry, loader ScoreLoader, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, concurrency int) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		registry:    reg,
		loader:      loader,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		concurrency: concurrency,
	}
}

// Import parses payload as importType and converts every record.
//
// A *domain.FatalError from the parser, or one propagated by a converter,
// aborts the import and is returned as is. Per-record failures never fail the
// import; they are reported in the Result's outcomes.
func (o *Orchestrator) Import(ctx context.Context, importType domain.ImportType, payload []byte, meta format.RequestMeta) (Result, error) {
	res := Result{
		ImportID:   uuid.NewString(),
		ImportType: importType,
		StartedAt:  o.clock.Now().UTC(),
	}
	logger := o.logger.With("import_id", res.ImportID, "import_type", importType)

	parser, ok := o.registry.Lookup(importType)
	if !ok {
		err := domain.BadRequestf("unknown import type %q, expected one of %v", importType, o.registry.Types())
		o.reject(logger, unknownImportType, err)
		return Result{}, err
	}

	sub, err := parser.Parse(ctx, payload, meta)
	if err != nil {
		o.reject(logger, importType, err)
		return Result{}, err
	}
	res.Context = sub.Context

	outcomes, err := o.convert(ctx, sub)
	if err != nil {
		o.reject(logger, importType, err)
		return Result{}, err
	}
	res.Outcomes = outcomes

	for _, out := range outcomes {
		if out.Status == StatusImported {
			res.Imported++
			continue
		}
		res.Failed++
		o.metrics.RecordFailures.WithLabelValues(string(importType), string(out.Kind)).Inc()

		attrs := []any{"index", out.Index, "kind", out.Kind, "reason", out.Reason}
		if out.Kind == domain.KindInternal {
			logger.Error("record conversion failed", attrs...)
		} else {
			logger.Info("record skipped", attrs...)
		}
	}
	o.metrics.RecordsConverted.WithLabelValues(string(importType)).Add(float64(res.Imported))

	res.FinishedAt = o.clock.Now().UTC()

	if o.loader != nil && res.Imported > 0 {
		if err := o.loader.LoadScores(ctx, res.ImportID, res.Scores()); err != nil {
			o.metrics.Imports.WithLabelValues(string(importType), "error").Inc()
			logger.Error("load scores failed", "error", err, "scores", res.Imported)
			return res, fmt.Errorf("%w: %w", ErrLoadScores, err)
		}
		o.metrics.ScoresProduced.Add(float64(res.Imported))
	}

	o.metrics.Imports.WithLabelValues(string(importType), "ok").Inc()
	o.metrics.ImportDuration.WithLabelValues(string(importType)).Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	logger.Info("import finished",
		"game", sub.Game,
		"records", len(outcomes),
		"imported", res.Imported,
		"failed", res.Failed,
	)
	return res, nil
}

// convert runs every record's converter with bounded parallelism. Each
// outcome is written to its record's index, so the order matches the
// submission whatever the completion order.
func (o *Orchestrator) convert(ctx context.Context, sub *format.Submission) ([]Outcome, error) {
	outcomes := make([]Outcome, len(sub.Records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, rec := range sub.Records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, err := rec.Convert(gctx)
			switch {
			case err == nil:
				outcomes[i] = Outcome{Index: i, Status: StatusImported, Score: &score}
			case domain.IsFatal(err):
				return err
			default:
				outcomes[i] = Outcome{Index: i, Status: StatusFailed, Kind: domain.KindOf(err), Reason: err.Error()}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (o *Orchestrator) reject(logger *slog.Logger, importType domain.ImportType, err error) {
	outcome := "fatal"
	if !domain.IsFatal(err) {
		outcome = "error"
	}
	o.metrics.Imports.WithLabelValues(string(importType), outcome).Inc()
	logger.Warn("submission rejected", "error", err)
}
