package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/resilience"
)

func newTestRegistry(adapters ...Adapter) *Registry {
	return NewRegistry(resilience.NewServiceBreakers(resilience.DefaultCircuitBreakerConfig()), adapters...)
}

func TestRegistry_SelectByTier(t *testing.T) {
	reg := newTestRegistry(
		&fakeAdapter{name: "metadata", tier: model.TierFree},
		&fakeAdapter{name: "clearbit", tier: model.TierPaid},
		&fakeAdapter{name: "openai_deep", tier: model.TierPremium},
		&fakeAdapter{name: "ipgeo", tier: model.TierFree},
	)

	names := func(monitors []*Monitor) []string {
		var out []string
		for _, m := range monitors {
			out = append(out, m.Name())
		}
		return out
	}

	assert.Equal(t, []string{"metadata", "ipgeo"},
		names(reg.Select(Policy{})))
	assert.Equal(t, []string{"metadata", "clearbit", "ipgeo"},
		names(reg.Select(Policy{IncludePaid: true})))
	assert.Equal(t, []string{"metadata", "clearbit", "openai_deep", "ipgeo"},
		names(reg.Select(Policy{IncludePaid: true, IncludePremium: true})))
}

func TestGather_RunsConcurrently(t *testing.T) {
	slow := func(ctx context.Context, _ Request) (map[string]any, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			return map[string]any{"ok": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	reg := newTestRegistry(
		&fakeAdapter{name: "a", tier: model.TierFree, enrichFn: slow},
		&fakeAdapter{name: "b", tier: model.TierFree, enrichFn: slow},
		&fakeAdapter{name: "c", tier: model.TierFree, enrichFn: slow},
	)

	start := time.Now()
	results := Gather(context.Background(), reg.Select(Policy{}), Request{Domain: "x.com.br"}, time.Second)
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.Success)
	}
	assert.Less(t, elapsed, 250*time.Millisecond, "adapters must not run sequentially")
}

func TestGather_PreservesSelectionOrder(t *testing.T) {
	reg := newTestRegistry(
		&fakeAdapter{name: "metadata", tier: model.TierFree, data: map[string]any{}},
		&fakeAdapter{name: "ipgeo", tier: model.TierFree, data: map[string]any{}},
		&fakeAdapter{name: "receitaws", tier: model.TierFree, data: map[string]any{}},
	)

	results := Gather(context.Background(), reg.Select(Policy{}), Request{}, time.Second)

	require.Len(t, results, 3)
	assert.Equal(t, "metadata", results[0].SourceName)
	assert.Equal(t, "ipgeo", results[1].SourceName)
	assert.Equal(t, "receitaws", results[2].SourceName)
}

func TestGather_IsolatesFailures(t *testing.T) {
	reg := newTestRegistry(
		&fakeAdapter{name: "good", tier: model.TierFree, data: map[string]any{"city": "São Paulo"}},
		&fakeAdapter{name: "bad", tier: model.TierFree, panic: true},
	)

	results := Gather(context.Background(), reg.Select(Policy{}), Request{}, time.Second)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
}

func TestGather_DeadlineTimesOutSlowAdapters(t *testing.T) {
	hang := func(ctx context.Context, _ Request) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	reg := newTestRegistry(
		&fakeAdapter{name: "fast", tier: model.TierFree, data: map[string]any{}},
		&fakeAdapter{name: "stuck", tier: model.TierFree, enrichFn: hang},
	)

	results := Gather(context.Background(), reg.Select(Policy{}), Request{}, 50*time.Millisecond)

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, model.ErrTimeout, results[1].ErrorType)
}
