package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/enrich"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/reconcile"
)

// gather fans out to every adapter the policy selects, serving repeat
// lookups per layer from the tiered cache. Cached layers cost nothing and
// never touch the network; fresh successes are written back. Submissions
// without a usable domain skip the cache entirely.
func (p *Pipeline) gather(ctx context.Context, sub model.Submission, rlog *runLog, tracker *cost.Tracker, log *zap.Logger) []model.SourceResult {
	if p.registry == nil {
		return nil
	}

	req := enrich.Request{
		Domain:      sub.Domain(),
		WebsiteURL:  sub.WebsiteURL,
		Company:     sub.Company,
		Industry:    sub.Industry,
		LinkedInURL: sub.LinkedInCompanyURL,
	}

	monitors := p.registry.Select(p.policy)
	cached := make(map[string]model.SourceResult, len(monitors))
	pending := make([]*enrich.Monitor, 0, len(monitors))

	for _, m := range monitors {
		if req.Domain == "" {
			pending = append(pending, m)
			continue
		}
		data, cacheTier, ok := p.cache.Lookup(ctx, m.Name(), req.Domain, req)
		if !ok {
			pending = append(pending, m)
			continue
		}
		p.cache.AddCostSaved(m.Cost())
		cached[m.Name()] = model.SourceResult{
			SourceName: m.Name(),
			Success:    true,
			Data:       data,
			Cached:     true,
		}
		log.Debug("pipeline: source served from cache",
			zap.String("source", m.Name()),
			zap.String("cache_tier", cacheTier),
		)
	}

	fresh := enrich.Gather(ctx, pending, req, p.gatherDeadline)
	byName := make(map[string]model.SourceResult, len(fresh))
	for _, r := range fresh {
		byName[r.SourceName] = r
	}

	// Selection order is the reconciliation tie-break order, so reassemble
	// cached and fresh results in it.
	results := make([]model.SourceResult, 0, len(monitors))
	for _, m := range monitors {
		if r, ok := cached[m.Name()]; ok {
			results = append(results, r)
			continue
		}
		r, ok := byName[m.Name()]
		if !ok {
			continue
		}
		if r.Success && len(r.Data) > 0 && req.Domain != "" {
			p.cache.Store(ctx, m.Name(), req.Domain, req, r.Data)
		}
		if tracker != nil && r.CostUSD > 0 {
			tracker.Add(cost.Entry{
				Stage:      "data_gathering",
				Model:      r.SourceName,
				CostUSD:    r.CostUSD,
				DurationMS: r.DurationMS,
				Success:    r.Success,
			})
		}
		results = append(results, r)
	}

	rlog.setSources(results)
	return results
}

// mergeSources reconciles the fan-out through the trust engine with the
// learner's current per-source adjustments applied.
func (p *Pipeline) mergeSources(ctx context.Context, results []model.SourceResult, log *zap.Logger) *reconcile.Outcome {
	eng := reconcile.NewEngine(p.trust)
	if adj := p.sourceAdjustments(ctx, log); len(adj) > 0 {
		eng.SetAdjustments(adj)
	}
	outcome := eng.Reconcile(results)
	log.Debug("pipeline: reconciliation done",
		zap.Int("fields", len(outcome.Fields)),
		zap.Int("decisions", len(outcome.Log)),
	)
	return outcome
}

// sourceAdjustments folds the learner's per-field records into one mean
// multiplier per source. An unreadable table just means no adjustments.
func (p *Pipeline) sourceAdjustments(ctx context.Context, log *zap.Logger) map[string]float64 {
	records, err := p.store.ListSourcePerformance(ctx)
	if err != nil {
		log.Warn("pipeline: source performance unavailable", zap.Error(err))
		return nil
	}
	if len(records) == 0 {
		return nil
	}

	sums := make(map[string]float64, len(records))
	counts := make(map[string]int, len(records))
	for _, rec := range records {
		sums[rec.Source] += rec.LearnedAdjustment
		counts[rec.Source]++
	}
	adjustments := make(map[string]float64, len(sums))
	for source, sum := range sums {
		adjustments[source] = sum / float64(counts[source])
	}
	return adjustments
}
