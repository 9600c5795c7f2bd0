package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWarm struct {
	mu     sync.Mutex
	layers map[string]map[string][]byte
	err    error
}

func newFakeWarm() *fakeWarm {
	return &fakeWarm{layers: make(map[string]map[string][]byte)}
}

func (f *fakeWarm) GetLayer(_ context.Context, domain, layer string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	v, ok := f.layers[domain][layer]
	return v, ok, nil
}

func (f *fakeWarm) SetLayer(_ context.Context, domain, layer string, data []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.layers[domain] == nil {
		f.layers[domain] = make(map[string][]byte)
	}
	f.layers[domain][layer] = append([]byte(nil), data...)
	return nil
}

func newTestTiered(t *testing.T) (*Tiered, *Memory, *fakeWarm, *FSBlobStore) {
	t.Helper()
	hot := NewMemory(100, 0)
	t.Cleanup(hot.Close)
	warm := newFakeWarm()
	cold := NewFSBlobStore(t.TempDir())
	return NewTiered(hot, warm, cold, Config{}), hot, warm, cold
}

func TestTiered_WarmHitPromotesToHot(t *testing.T) {
	tc, hot, warm, _ := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	require.NoError(t, warm.SetLayer(ctx, "techstart.com.br", "clearbit",
		[]byte(`{"legal_name":"TechStart LTDA","employee_count":42}`), 0))

	v, tier, ok := tc.Lookup(ctx, "clearbit", "techstart.com.br", params)
	require.True(t, ok)
	assert.Equal(t, TierWarm, tier)
	assert.Equal(t, "TechStart LTDA", v["legal_name"])

	h8, err := Hash8(params)
	require.NoError(t, err)
	_, promoted := hot.Get(ctx, Key("clearbit", "techstart.com.br", h8))
	assert.True(t, promoted, "warm hit must land in the hot tier")

	_, tier, ok = tc.Lookup(ctx, "clearbit", "techstart.com.br", params)
	require.True(t, ok)
	assert.Equal(t, TierHot, tier)
}

func TestTiered_ColdHitPromotesEverywhere(t *testing.T) {
	tc, hot, warm, cold := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	require.NoError(t, cold.Put(ctx, "static/techstart.com.br/company_data.json",
		[]byte(`{"legal_name":"TechStart LTDA","founded_year":2018}`)))

	v, tier, ok := tc.Lookup(ctx, "opencorporates", "techstart.com.br", params)
	require.True(t, ok)
	assert.Equal(t, TierCold, tier)
	assert.Equal(t, "TechStart LTDA", v["legal_name"])

	_, found, err := warm.GetLayer(ctx, "techstart.com.br", "opencorporates")
	require.NoError(t, err)
	assert.True(t, found, "cold hit must land in the warm tier")

	h8, err := Hash8(params)
	require.NoError(t, err)
	_, promoted := hot.Get(ctx, Key("opencorporates", "techstart.com.br", h8))
	assert.True(t, promoted, "cold hit must land in the hot tier")
}

func TestTiered_StoreWritesHotAndWarm(t *testing.T) {
	tc, hot, warm, _ := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	tc.Store(ctx, "ipgeo", "techstart.com.br", params, map[string]any{
		"city": "São Paulo", "country": "BR",
	})

	h8, err := Hash8(params)
	require.NoError(t, err)
	_, ok := hot.Get(ctx, Key("ipgeo", "techstart.com.br", h8))
	assert.True(t, ok)

	_, found, err := warm.GetLayer(ctx, "techstart.com.br", "ipgeo")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestTiered_ColdOnlyStaticFields(t *testing.T) {
	tc, _, _, cold := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	// No static fields: nothing reaches the cold tier.
	tc.Store(ctx, "ipgeo", "nostatic.com", params, map[string]any{
		"city": "São Paulo", "employee_count": 42,
	})
	_, err := cold.Get(ctx, "static/nostatic.com/company_data.json")
	assert.ErrorIs(t, err, ErrBlobNotFound)

	// Mixed result: only the static subset is kept cold.
	tc.Store(ctx, "opencorporates", "techstart.com.br", params, map[string]any{
		"legal_name":     "TechStart LTDA",
		"founded_year":   2018,
		"employee_count": 42,
		"city":           "São Paulo",
	})
	blob, err := cold.Get(ctx, "static/techstart.com.br/company_data.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"legal_name":"TechStart LTDA","founded_year":2018}`, string(blob))
}

func TestTiered_MissEverywhere(t *testing.T) {
	tc, _, _, _ := newTestTiered(t)

	_, tier, ok := tc.Lookup(context.Background(), "clearbit", "unknown.com", map[string]any{"domain": "unknown.com"})
	assert.False(t, ok)
	assert.Empty(t, tier)
}

func TestTiered_WarmErrorDegradesToMiss(t *testing.T) {
	hot := NewMemory(100, 0)
	t.Cleanup(hot.Close)
	warm := newFakeWarm()
	warm.err = eris.New("database is locked")
	tc := NewTiered(hot, warm, NewFSBlobStore(t.TempDir()), Config{})
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	_, _, ok := tc.Lookup(ctx, "clearbit", "techstart.com.br", params)
	assert.False(t, ok)

	// A failing warm tier must not block writes to the others.
	tc.Store(ctx, "clearbit", "techstart.com.br", params, map[string]any{"legal_name": "TechStart LTDA"})
	h8, err := Hash8(params)
	require.NoError(t, err)
	_, hotOK := hot.Get(ctx, Key("clearbit", "techstart.com.br", h8))
	assert.True(t, hotOK)
}

func TestTiered_CorruptHotEntrySkipped(t *testing.T) {
	tc, hot, _, _ := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	h8, err := Hash8(params)
	require.NoError(t, err)
	hot.Set(ctx, Key("clearbit", "techstart.com.br", h8), []byte("not-json"), time.Hour)

	_, _, ok := tc.Lookup(ctx, "clearbit", "techstart.com.br", params)
	assert.False(t, ok)
}

func TestTiered_Stats(t *testing.T) {
	tc, _, _, _ := newTestTiered(t)
	ctx := context.Background()
	params := map[string]any{"domain": "techstart.com.br"}

	tc.Lookup(ctx, "clearbit", "techstart.com.br", params) // miss
	tc.Store(ctx, "clearbit", "techstart.com.br", params, map[string]any{"legal_name": "TechStart LTDA"})
	tc.Lookup(ctx, "clearbit", "techstart.com.br", params) // hot hit
	tc.Lookup(ctx, "clearbit", "techstart.com.br", params) // hot hit
	tc.RecordStage(true)
	tc.RecordStage(false)
	tc.AddCostSaved(0.12)

	s := tc.Stats()
	assert.Equal(t, uint64(5), s.Lookups)
	assert.Equal(t, uint64(3), s.LookupHits)
	assert.InDelta(t, 60.0, s.HitRatePercent, 0.001)
	assert.Equal(t, uint64(1), s.Stage.Hits)
	assert.Equal(t, uint64(1), s.Stage.Misses)
	assert.InDelta(t, 0.12, s.CostSavedUSD, 1e-9)
}

func TestKey_Format(t *testing.T) {
	assert.Equal(t, "enrich:metadata:techstart.com.br:abcd1234",
		Key("metadata", "WWW.TechStart.com.br", "abcd1234"))
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"techstart.com.br", "techstart.com.br"},
		{"WWW.TechStart.com.br", "techstart.com.br"},
		{"  www.example.org ", "example.org"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeDomain(tt.in))
	}
}
