package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
	"github.com/couchcryptid/aqhi-etl/internal/pipeline"
)

// --- mocks ---

type mockExtractor struct {
	mu      sync.Mutex
	batches [][]domain.RawPage
	err     error
	calls   atomic.Int64
}

func (m *mockExtractor) ExtractBatch(ctx context.Context, _ int) ([]domain.RawPage, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	if len(m.batches) > 0 {
		b := m.batches[0]
		m.batches = m.batches[1:]
		m.mu.Unlock()
		return b, nil
	}
	m.mu.Unlock()
	// block until cancelled to simulate an idle topic
	<-ctx.Done()
	return nil, ctx.Err()
}

type mockTransformer struct {
	failKey string
}

func (m *mockTransformer) Transform(_ context.Context, raw domain.RawPage) (domain.CityPage, error) {
	if string(raw.Key) == m.failKey {
		return domain.CityPage{}, errors.New("station headers have no name column")
	}
	return domain.CityPage{CityKey: string(raw.Key), Source: string(raw.Key)}, nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded []domain.CityPage
	err    error
}

func (m *mockLoader) LoadBatch(_ context.Context, pages []domain.CityPage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, pages...)
	return nil
}

func (m *mockLoader) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, len(m.loaded))
	for i, p := range m.loaded {
		keys[i] = p.CityKey
	}
	return keys
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func rawPage(key string, committed *atomic.Int64) domain.RawPage {
	return domain.RawPage{
		Key:   []byte(key),
		Value: []byte("<html></html>"),
		Topic: "raw-aqi-pages",
		Commit: func(context.Context) error {
			if committed != nil {
				committed.Add(1)
			}
			return nil
		},
	}
}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	var committed atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawPage{{rawPage("beijing", &committed), rawPage("shanghai", &committed)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"beijing", "shanghai"}, ldr.keys())
	assert.Equal(t, int64(2), committed.Load())
	assert.True(t, p.Ready())
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	ldr := &mockLoader{}
	p := pipeline.New(&mockExtractor{}, &mockTransformer{}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.keys())
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_TransformErrorCommitsAndSkips(t *testing.T) {
	var committed atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawPage{{rawPage("broken", &committed), rawPage("beijing", &committed)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{failKey: "broken"}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"beijing"}, ldr.keys())
	assert.Equal(t, int64(2), committed.Load(), "the failed page is committed too")
}

func TestPipeline_Run_OnlyFailuresNotReady(t *testing.T) {
	ext := &mockExtractor{batches: [][]domain.RawPage{{rawPage("broken", nil)}}}
	ldr := &mockLoader{}

	p := pipeline.New(ext, &mockTransformer{failKey: "broken"}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Empty(t, ldr.keys())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_LoadErrorDoesNotCommit(t *testing.T) {
	var committed atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawPage{{rawPage("beijing", &committed)}}}
	ldr := &mockLoader{err: errors.New("database unreachable")}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Zero(t, committed.Load())
	assert.False(t, p.Ready())
}

func TestPipeline_Run_ExtractErrorBacksOff(t *testing.T) {
	ext := &mockExtractor{err: errors.New("broker unavailable")}
	p := pipeline.New(ext, &mockTransformer{}, &mockLoader{}, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	// 200ms then 400ms of backoff leaves room for at most three attempts
	assert.LessOrEqual(t, ext.calls.Load(), int64(3))
	assert.GreaterOrEqual(t, ext.calls.Load(), int64(2))
}

// flakyLoader fails its first call only.
type flakyLoader struct {
	mockLoader
	calls atomic.Int64
}

func (f *flakyLoader) LoadBatch(ctx context.Context, pages []domain.CityPage) error {
	if f.calls.Add(1) == 1 {
		return errors.New("database unreachable")
	}
	return f.mockLoader.LoadBatch(ctx, pages)
}

func TestPipeline_Run_RecoversAfterLoadError(t *testing.T) {
	var first, second atomic.Int64
	ext := &mockExtractor{batches: [][]domain.RawPage{{rawPage("beijing", &first)}, {rawPage("shanghai", &second)}}}
	ldr := &flakyLoader{}

	p := pipeline.New(ext, &mockTransformer{}, ldr, discard(), observability.NewMetricsForTesting(), 10)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	assert.Equal(t, []string{"shanghai"}, ldr.keys())
	assert.Zero(t, first.Load(), "the failed batch stays uncommitted")
	assert.Equal(t, int64(1), second.Load())
	assert.True(t, p.Ready())
}
