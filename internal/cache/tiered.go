package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
)

// WarmStore is the slice of the session store the cache needs: per-domain
// rows with per-layer sub-blobs.
type WarmStore interface {
	GetLayer(ctx context.Context, domain, layer string) ([]byte, bool, error)
	SetLayer(ctx context.Context, domain, layer string, data []byte, ttl time.Duration) error
}

// Tier labels for lookup results and stats.
const (
	TierHot  = "hot"
	TierWarm = "warm"
	TierCold = "cold"
)

// Config sets the per-tier TTLs.
type Config struct {
	HotTTL  time.Duration // default 1h
	WarmTTL time.Duration // default 30d
}

// Tiered chains the hot, warm, and cold tiers with promotion on hit. Every
// error on a tier is logged and treated as a miss; the cache never fails a
// caller.
type Tiered struct {
	hot  Hot
	warm WarmStore
	cold BlobStore
	cfg  Config

	mu         sync.Mutex
	warmStats  TierStats
	coldStats  TierStats
	stageStats TierStats
	lookups    uint64
	lookupHits uint64
	costSaved  float64
}

// NewTiered assembles the cache. Any tier may be nil and is then skipped.
func NewTiered(hot Hot, warm WarmStore, cold BlobStore, cfg Config) *Tiered {
	if cfg.HotTTL <= 0 {
		cfg.HotTTL = time.Hour
	}
	if cfg.WarmTTL <= 0 {
		cfg.WarmTTL = 30 * 24 * time.Hour
	}
	return &Tiered{hot: hot, warm: warm, cold: cold, cfg: cfg}
}

// Key builds the hot-tier key for one enrichment layer.
func Key(layer, domain, hash8 string) string {
	return fmt.Sprintf("enrich:%s:%s:%s", layer, NormalizeDomain(domain), hash8)
}

// NormalizeDomain lowercases and strips the www. prefix.
func NormalizeDomain(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	return strings.TrimPrefix(d, "www.")
}

func coldPath(domain string) string {
	return fmt.Sprintf("static/%s/company_data.json", NormalizeDomain(domain))
}

// Lookup walks hot → warm → cold for the given layer and promotes a hit into
// every hotter tier. It returns the cached value, the tier that served it,
// and whether anything was found.
func (t *Tiered) Lookup(ctx context.Context, layer, domain string, params any) (map[string]any, string, bool) {
	h8, err := Hash8(params)
	if err != nil {
		zap.L().Warn("cache: uncacheable params", zap.String("layer", layer), zap.Error(err))
		return nil, "", false
	}
	key := Key(layer, domain, h8)
	t.countLookup()

	if t.hot != nil {
		if raw, ok := t.hot.Get(ctx, key); ok {
			if v := decodeValue(raw); v != nil {
				t.countLookupHit()
				return v, TierHot, true
			}
		}
	}

	if t.warm != nil {
		raw, ok, err := t.warm.GetLayer(ctx, NormalizeDomain(domain), layer)
		if err != nil {
			zap.L().Warn("cache: warm read failed", zap.String("domain", domain), zap.Error(err))
		}
		t.countWarm(ok && err == nil)
		if ok && err == nil {
			if v := decodeValue(raw); v != nil {
				t.promoteHot(ctx, key, raw)
				t.countLookupHit()
				return v, TierWarm, true
			}
		}
	}

	if t.cold != nil {
		raw, err := t.cold.Get(ctx, coldPath(domain))
		hit := err == nil
		if err != nil && !isBlobMiss(err) {
			zap.L().Warn("cache: cold read failed", zap.String("domain", domain), zap.Error(err))
		}
		t.countCold(hit)
		if hit {
			if v := decodeValue(raw); v != nil && len(v) > 0 {
				t.promoteWarm(ctx, domain, layer, raw)
				t.promoteHot(ctx, key, raw)
				t.countLookupHit()
				return v, TierCold, true
			}
		}
	}

	return nil, "", false
}

// Store writes the enrichment result to hot and warm, and to cold when the
// result carries at least one static field (only the static subset is kept
// there).
func (t *Tiered) Store(ctx context.Context, layer, domain string, params any, result map[string]any) {
	raw, err := json.Marshal(result)
	if err != nil {
		zap.L().Warn("cache: marshal result", zap.String("layer", layer), zap.Error(err))
		return
	}

	if t.hot != nil {
		h8, err := Hash8(params)
		if err == nil {
			t.hot.Set(ctx, Key(layer, domain, h8), raw, t.cfg.HotTTL)
		}
	}

	if t.warm != nil {
		if err := t.warm.SetLayer(ctx, NormalizeDomain(domain), layer, raw, t.cfg.WarmTTL); err != nil {
			zap.L().Warn("cache: warm write failed", zap.String("domain", domain), zap.Error(err))
		}
	}

	if t.cold != nil {
		static := staticSubset(result)
		if len(static) > 0 {
			blob, err := json.Marshal(static)
			if err == nil {
				if err := t.cold.Put(ctx, coldPath(domain), blob); err != nil {
					zap.L().Warn("cache: cold write failed", zap.String("domain", domain), zap.Error(err))
				}
			}
		}
	}
}

// AddCostSaved records the estimated spend a cache hit avoided.
func (t *Tiered) AddCostSaved(usd float64) {
	if usd <= 0 {
		return
	}
	t.mu.Lock()
	t.costSaved += usd
	t.mu.Unlock()
}

// RecordStage lets the per-stage LLM cache wrapper feed its hit/miss counts
// into the shared stats. Stage probes count as lookups too.
func (t *Tiered) RecordStage(hit bool) {
	t.mu.Lock()
	t.lookups++
	if hit {
		t.stageStats.Hits++
		t.lookupHits++
	} else {
		t.stageStats.Misses++
	}
	t.mu.Unlock()
}

// Stats snapshots all tiers plus the rolling cost-saved figure.
func (t *Tiered) Stats() Stats {
	var s Stats
	if t.hot != nil {
		s.Hot = t.hot.Stats()
	}
	t.mu.Lock()
	s.Warm = t.warmStats
	s.Cold = t.coldStats
	s.Stage = t.stageStats
	s.Lookups = t.lookups
	s.LookupHits = t.lookupHits
	s.CostSavedUSD = t.costSaved
	t.mu.Unlock()

	if s.Lookups > 0 {
		s.HitRatePercent = 100 * float64(s.LookupHits) / float64(s.Lookups)
	}
	return s
}

func (t *Tiered) promoteHot(ctx context.Context, key string, raw []byte) {
	if t.hot != nil {
		t.hot.Set(ctx, key, raw, t.cfg.HotTTL)
	}
}

func (t *Tiered) promoteWarm(ctx context.Context, domain, layer string, raw []byte) {
	if t.warm == nil {
		return
	}
	if err := t.warm.SetLayer(ctx, NormalizeDomain(domain), layer, raw, t.cfg.WarmTTL); err != nil {
		zap.L().Warn("cache: warm promotion failed", zap.String("domain", domain), zap.Error(err))
	}
}

func (t *Tiered) countLookup() {
	t.mu.Lock()
	t.lookups++
	t.mu.Unlock()
}

func (t *Tiered) countLookupHit() {
	t.mu.Lock()
	t.lookupHits++
	t.mu.Unlock()
}

func (t *Tiered) countWarm(hit bool) {
	t.mu.Lock()
	if hit {
		t.warmStats.Hits++
	} else {
		t.warmStats.Misses++
	}
	t.mu.Unlock()
}

func (t *Tiered) countCold(hit bool) {
	t.mu.Lock()
	if hit {
		t.coldStats.Hits++
	} else {
		t.coldStats.Misses++
	}
	t.mu.Unlock()
}

func decodeValue(raw []byte) map[string]any {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		zap.L().Warn("cache: corrupt entry dropped", zap.Error(err))
		return nil
	}
	return v
}

func staticSubset(result map[string]any) map[string]any {
	out := make(map[string]any)
	for _, f := range model.StaticFields {
		if v, ok := result[f]; ok && v != nil {
			out[f] = v
		}
	}
	return out
}

func isBlobMiss(err error) bool {
	return errors.Is(err, ErrBlobNotFound)
}
