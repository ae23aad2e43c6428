package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	sharedretry "github.com/couchcryptid/storm-data-shared/retry"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/observability"
)

// BatchExtractor reads up to batchSize inbound submissions from the source.
type BatchExtractor interface {
	ExtractBatch(ctx context.Context, batchSize int) ([]domain.InboundMessage, error)
}

// Importer imports one submission. *Orchestrator implements it.
type Importer interface {
	Import(ctx context.Context, importType domain.ImportType, payload []byte, meta format.RequestMeta) (Result, error)
}

// Pipeline feeds submissions read from Kafka through the importer.
type Pipeline struct {
	extractor BatchExtractor
	importer  Importer
	logger    *slog.Logger
	metrics   *observability.Metrics
	ready     atomic.Bool
	batchSize int
}

// New creates a Pipeline with the given stages and observability.
func New(e BatchExtractor, imp Importer, logger *slog.Logger, metrics *observability.Metrics, batchSize int) *Pipeline {
	return &Pipeline{
		extractor: e,
		importer:  imp,
		logger:    logger,
		metrics:   metrics,
		batchSize: batchSize,
	}
}

// CheckReadiness returns nil if the pipeline has processed at least one submission,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not processed any submissions yet")
	}
	return nil
}

// Run executes the import loop until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "batch_size", p.batchSize)
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := initialBackoff
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processBatch(ctx, &backoff, maxBackoff) {
			return nil
		}
	}
}

const initialBackoff = 200 * time.Millisecond

// processBatch runs one extract-import cycle. Returns false if the pipeline should stop.
func (p *Pipeline) processBatch(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	start := time.Now()

	batch, err := p.extractor.ExtractBatch(ctx, p.batchSize)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract batch failed", "error", err)
		return p.backoffOrStop(ctx, backoff, maxBackoff)
	}

	if len(batch) == 0 {
		return ctx.Err() == nil
	}

	p.metrics.SubmissionsConsumed.Add(float64(len(batch)))
	p.metrics.BatchSize.Observe(float64(len(batch)))
	*backoff = initialBackoff

	processed, ok := p.importBatch(ctx, batch, backoff, maxBackoff)
	if !ok {
		return false
	}

	if processed > 0 {
		p.metrics.BatchProcessingDuration.Observe(time.Since(start).Seconds())
		p.ready.Store(true)
	}
	return true
}

// importBatch imports each submission in order and commits its offset.
// Rejected submissions are logged and committed so they never block the
// partition. A load failure retries the same submission with backoff until it
// loads or the context ends, so no offset is committed past a submission
// whose scores were never stored. Returns the number of submissions processed
// and false if the pipeline should stop.
func (p *Pipeline) importBatch(ctx context.Context, batch []domain.InboundMessage, backoff *time.Duration, maxBackoff time.Duration) (int, bool) {
	processed := 0
	for _, msg := range batch {
		importType := domain.ImportType(msg.Headers[domain.HeaderImportType])
		res, err := p.importMessage(ctx, importType, msg, backoff, maxBackoff)

		switch {
		case err == nil:
			p.logger.Debug("submission imported",
				"import_id", res.ImportID,
				"imported", res.Imported,
				"failed", res.Failed,
				"offset", msg.Offset,
			)
		case ctx.Err() != nil:
			return processed, false
		default:
			p.logger.Warn("submission rejected, skipping message",
				"error", err,
				"kind", domain.KindOf(err),
				"import_type", importType,
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
		}

		p.commitOffset(ctx, msg)
		processed++
	}
	return processed, true
}

// importMessage imports one message, retrying while the loader fails. It gives
// up only when the context ends, returning the last load error.
func (p *Pipeline) importMessage(ctx context.Context, importType domain.ImportType, msg domain.InboundMessage, backoff *time.Duration, maxBackoff time.Duration) (Result, error) {
	for attempt := 1; ; attempt++ {
		res, err := p.importer.Import(ctx, importType, msg.Value, requestMeta(msg.Headers))
		if !errors.Is(err, ErrLoadScores) {
			if err == nil {
				*backoff = initialBackoff
			}
			return res, err
		}
		p.logger.Error("load failed, retrying submission", "error", err, "attempt", attempt,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		if !p.backoffOrStop(ctx, backoff, maxBackoff) {
			return Result{}, err
		}
	}
}

// requestMeta splits message headers into parser options and request headers.
func requestMeta(headers map[string]string) format.RequestMeta {
	meta := format.RequestMeta{Header: http.Header{}, Options: map[string]string{}}
	for k, v := range headers {
		switch {
		case k == domain.HeaderImportType:
		case strings.HasPrefix(k, domain.HeaderOptionPrefix):
			meta.Options[strings.TrimPrefix(k, domain.HeaderOptionPrefix)] = v
		default:
			meta.Header.Set(k, v)
		}
	}
	return meta
}

// backoffOrStop checks for context cancellation, sleeps with the current backoff,
// and advances the backoff. Returns false if the pipeline should stop.
func (p *Pipeline) backoffOrStop(ctx context.Context, backoff *time.Duration, maxBackoff time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sharedretry.SleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = sharedretry.NextBackoff(*backoff, maxBackoff)
	return true
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, msg domain.InboundMessage) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
	}
}
