package cache

// TierStats counts traffic for one cache tier.
type TierStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions,omitempty"`
	Entries   int    `json:"entries,omitempty"`
}

// Stats is the aggregate cache picture for the stats surface. Lookups and
// LookupHits count distinct lookups, not tier probes: a value found in the
// cold tier registers one hit even though two hotter tiers missed first.
type Stats struct {
	Hot            TierStats `json:"hot"`
	Warm           TierStats `json:"warm"`
	Cold           TierStats `json:"cold"`
	Stage          TierStats `json:"stage"`
	Lookups        uint64    `json:"lookups"`
	LookupHits     uint64    `json:"lookup_hits"`
	CostSavedUSD   float64   `json:"cost_saved_usd"`
	HitRatePercent float64   `json:"hit_rate_percent"`
}
