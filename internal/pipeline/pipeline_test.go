package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/score-import-etl/internal/domain"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/observability"
	"github.com/couchcryptid/score-import-etl/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	mu      sync.Mutex
	batches [][]domain.InboundMessage
	calls   atomic.Int32
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.InboundMessage, error) {
	m.calls.Add(1)
	m.mu.Lock()
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()

	// block until context cancelled to simulate waiting for messages
	<-ctx.Done()
	return nil, ctx.Err()
}

type importCall struct {
	importType domain.ImportType
	payload    string
	meta       format.RequestMeta
}

type mockImporter struct {
	mu    sync.Mutex
	calls []importCall
	errs  map[string]error
	// failures counts how many more times a payload fails to load.
	failures map[string]int
}

func (m *mockImporter) Import(_ context.Context, importType domain.ImportType, payload []byte, meta format.RequestMeta) (pipeline.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, importCall{importType: importType, payload: string(payload), meta: meta})
	if err := m.errs[string(payload)]; err != nil {
		return pipeline.Result{}, err
	}
	if m.failures[string(payload)] > 0 {
		m.failures[string(payload)]--
		return pipeline.Result{}, fmt.Errorf("%w: %w", pipeline.ErrLoadScores, errors.New("broker down"))
	}
	return pipeline.Result{ImportID: fmt.Sprintf("imp-%d", len(m.calls)), ImportType: importType, Imported: 1}, nil
}

func (m *mockImporter) snapshot() []importCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]importCall(nil), m.calls...)
}

type commitLog struct {
	mu      sync.Mutex
	offsets []int64
}

func (c *commitLog) message(offset int64, payload string, headers map[string]string) domain.InboundMessage {
	return domain.InboundMessage{
		Value:     []byte(payload),
		Headers:   headers,
		Topic:     "score-submissions",
		Offset:    offset,
		Timestamp: epoch,
		Commit: func(context.Context) error {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.offsets = append(c.offsets, offset)
			return nil
		},
	}
}

func (c *commitLog) committed() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.offsets...)
}

func batchHeaders() map[string]string {
	return map[string]string{domain.HeaderImportType: string(domain.ImportBatchManual)}
}

func runFor(t *testing.T, p *pipeline.Pipeline, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	require.NoError(t, p.Run(ctx))
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.InboundMessage{{
		commits.message(10, "first", batchHeaders()),
		commits.message(11, "second", batchHeaders()),
	}}}
	imp := &mockImporter{}
	metrics := observability.NewMetricsForTesting()

	p := pipeline.New(ext, imp, slog.Default(), metrics, 10)
	runFor(t, p, 300*time.Millisecond)

	calls := imp.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].payload)
	assert.Equal(t, domain.ImportBatchManual, calls[0].importType)
	assert.Equal(t, []int64{10, 11}, commits.committed())

	assert.InDelta(t, 2, testutil.ToFloat64(metrics.SubmissionsConsumed), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(metrics.PipelineRunning), 0, "running gauge resets on stop")
	require.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_RejectedSubmissionIsCommitted(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.InboundMessage{{
		commits.message(1, "broken", batchHeaders()),
		commits.message(2, "fine", batchHeaders()),
	}}}
	imp := &mockImporter{errs: map[string]error{
		"broken": domain.BadRequestf("invalid JSON"),
	}}

	p := pipeline.New(ext, imp, slog.Default(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 300*time.Millisecond)

	assert.Len(t, imp.snapshot(), 2)
	assert.Equal(t, []int64{1, 2}, commits.committed(), "a rejected submission never blocks the partition")
}

func TestPipeline_Run_LoadFailureRetriesBeforeMovingOn(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.InboundMessage{
		{
			commits.message(10, "fail", batchHeaders()),
			commits.message(11, "second", batchHeaders()),
		},
		{commits.message(12, "third", batchHeaders())},
	}}
	imp := &mockImporter{failures: map[string]int{"fail": 1}}

	p := pipeline.New(ext, imp, slog.Default(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 800*time.Millisecond)

	var payloads []string
	for _, c := range imp.snapshot() {
		payloads = append(payloads, c.payload)
	}
	assert.Equal(t, []string{"fail", "fail", "second", "third"}, payloads, "the failed submission is retried in place")
	assert.Equal(t, []int64{10, 11, 12}, commits.committed())
}

func TestPipeline_Run_LoadFailureNeverCommitsPastIt(t *testing.T) {
	commits := &commitLog{}
	ext := &mockExtractor{batches: [][]domain.InboundMessage{
		{
			commits.message(1, "ok", batchHeaders()),
			commits.message(2, "unloadable", batchHeaders()),
			commits.message(3, "after", batchHeaders()),
		},
		{commits.message(4, "later", batchHeaders())},
	}}
	imp := &mockImporter{failures: map[string]int{"unloadable": 1000}}

	p := pipeline.New(ext, imp, slog.Default(), observability.NewMetricsForTesting(), 10)
	runFor(t, p, 500*time.Millisecond)

	for _, c := range imp.snapshot() {
		assert.Contains(t, []string{"ok", "unloadable"}, c.payload, "nothing past the failing submission is imported")
	}
	assert.GreaterOrEqual(t, len(imp.snapshot()), 3, "the failing submission is retried")
	assert.Equal(t, []int64{1}, commits.committed())
	assert.Equal(t, int32(1), ext.calls.Load(), "no new batch is read while a load is failing")
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &failingExtractor{}
	p := pipeline.New(ext, &mockImporter{}, slog.Default(), observability.NewMetricsForTesting(), 10)

	runFor(t, p, 500*time.Millisecond)

	// 200ms then 400ms: far fewer calls than a hot loop would make.
	n := ext.calls.Load()
	assert.GreaterOrEqual(t, n, int32(2))
	assert.LessOrEqual(t, n, int32(4))
	assert.Error(t, p.CheckReadiness(context.Background()))
}

type failingExtractor struct {
	calls atomic.Int32
}

func (f *failingExtractor) ExtractBatch(context.Context, int) ([]domain.InboundMessage, error) {
	f.calls.Add(1)
	return nil, errors.New("broker unreachable")
}

func TestPipeline_Run_StopsOnCancel(t *testing.T) {
	p := pipeline.New(&mockExtractor{}, &mockImporter{}, slog.Default(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop after cancel")
	}
}

func TestPipeline_HeadersBecomeRequestMeta(t *testing.T) {
	commits := &commitLog{}
	headers := map[string]string{
		domain.HeaderImportType: string(domain.ImportIIDXCSV),
		"X-Software-Model":      "LDJ:J:B:A:2020092900",
	}
	headers[domain.HeaderOptionPrefix+"playtype"] = "DP"
	ext := &mockExtractor{batches: [][]domain.InboundMessage{{commits.message(5, "csv", headers)}}}
	imp := &mockImporter{}

	p := pipeline.New(ext, imp, slog.Default(), observability.NewMetricsForTesting(), 1)
	runFor(t, p, 200*time.Millisecond)

	calls := imp.snapshot()
	require.Len(t, calls, 1)
	meta := calls[0].meta
	assert.Equal(t, domain.ImportIIDXCSV, calls[0].importType)
	assert.Equal(t, map[string]string{"playtype": "DP"}, meta.Options)
	assert.Equal(t, "LDJ:J:B:A:2020092900", meta.HeaderValue("X-Software-Model"))
	assert.Empty(t, meta.HeaderValue(domain.HeaderImportType), "import type is not a request header")
}

func TestPipeline_CheckReadiness_BeforeRun(t *testing.T) {
	p := pipeline.New(&mockExtractor{}, &mockImporter{}, slog.Default(), observability.NewMetricsForTesting(), 10)
	assert.Error(t, p.CheckReadiness(context.Background()))
}
