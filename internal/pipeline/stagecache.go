package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cache"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/stage"
)

// Cache lifetimes: per-stage outputs are reusable for a week, finished
// analyses for a month.
const (
	defaultStageTTL  = 7 * 24 * time.Hour
	defaultReportTTL = 30 * 24 * time.Hour
)

// stageEstimates is the flat cost credited to cost-saved stats when a
// cached stage output is served. The figures track typical spend per stage
// under the shipped model table, not the actual cost of the cached run.
var stageEstimates = map[string]float64{
	stage.StageExtraction:  0.002,
	stage.StageGapAnalysis: 0.002,
	stage.StageStrategy:    0.015,
	stage.StageCompetitive: 0.012,
	stage.StageRiskScoring: 0.010,
	stage.StagePolish:      0.008,
}

// stageCacheEntry stores one stage's LLM output verbatim plus the cost
// attribution a future hit reports.
type stageCacheEntry struct {
	Output           map[string]any `json:"output"`
	Model            string         `json:"model"`
	EstimatedCostUSD float64        `json:"estimated_cost_usd"`
}

// reportCacheEntry stores a finished analysis. Report carries no _metadata
// root key; the typed copy here rebuilds it on revival.
type reportCacheEntry struct {
	Report   model.Report   `json:"report"`
	Metadata model.Metadata `json:"metadata"`
	CostUSD  float64        `json:"cost_usd"`
}

// runStage wraps one stage with the output cache and the run log. Cache
// errors are never fatal: a failed probe or write just runs the stage
// uncached. Hits report zero token usage and keep the recorded model.
func (p *Pipeline) runStage(ctx context.Context, log *zap.Logger, rlog *runLog, id string, sub model.Submission, inputs any, fn func() (*stage.Result, error)) (*stage.Result, error) {
	key, err := stageCacheKey(id, sub, inputs)
	if err != nil {
		log.Warn("pipeline: stage not cacheable",
			zap.String("stage", id),
			zap.Error(err),
		)
	}

	start := p.nowFunc()
	if key != "" {
		if entry := p.lookupStage(ctx, key, log); entry != nil {
			p.cache.AddCostSaved(entry.EstimatedCostUSD)
			out := entry.Output
			out[model.UsageStatsKey] = map[string]any{"input_tokens": 0, "output_tokens": 0}
			rlog.done(id, entry.Model, p.nowFunc().Sub(start), true)
			log.Info("pipeline: stage served from cache", zap.String("stage", id))
			return &stage.Result{Stage: id, Model: entry.Model, Output: out}, nil
		}
	}

	res, err := fn()
	elapsed := p.nowFunc().Sub(start)
	if err != nil {
		rlog.failed(id, elapsed, err)
		return nil, err
	}
	rlog.done(id, res.Model, elapsed, false)
	rlog.warn(res.Warnings...)

	if key != "" {
		p.storeStage(ctx, key, res, log)
	}
	return res, nil
}

func (p *Pipeline) lookupStage(ctx context.Context, key string, log *zap.Logger) *stageCacheEntry {
	raw, err := p.store.GetStage(ctx, key)
	if err != nil {
		log.Warn("pipeline: stage cache read failed", zap.Error(err))
		return nil
	}
	if raw == nil {
		p.cache.RecordStage(false)
		return nil
	}
	var entry stageCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Output == nil {
		log.Warn("pipeline: corrupt stage cache entry dropped", zap.Error(err))
		p.cache.RecordStage(false)
		return nil
	}
	p.cache.RecordStage(true)
	return &entry
}

func (p *Pipeline) storeStage(ctx context.Context, key string, res *stage.Result, log *zap.Logger) {
	raw, err := json.Marshal(stageCacheEntry{
		Output:           res.Output,
		Model:            res.Model,
		EstimatedCostUSD: stageEstimates[res.Stage],
	})
	if err != nil {
		log.Warn("pipeline: stage output not serialisable",
			zap.String("stage", res.Stage),
			zap.Error(err),
		)
		return
	}
	if err := p.store.SetStage(ctx, key, raw, p.stageTTL); err != nil {
		log.Warn("pipeline: stage cache write failed",
			zap.String("stage", res.Stage),
			zap.Error(err),
		)
	}
}

func (p *Pipeline) lookupReport(ctx context.Context, key string, log *zap.Logger) *reportCacheEntry {
	raw, err := p.store.GetStage(ctx, key)
	if err != nil {
		log.Warn("pipeline: analysis cache read failed", zap.Error(err))
		return nil
	}
	if raw == nil {
		p.cache.RecordStage(false)
		return nil
	}
	var entry reportCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || len(entry.Report) == 0 {
		log.Warn("pipeline: corrupt analysis cache entry dropped", zap.Error(err))
		p.cache.RecordStage(false)
		return nil
	}
	p.cache.RecordStage(true)
	return &entry
}

func (p *Pipeline) storeReport(ctx context.Context, key string, report model.Report, md model.Metadata, log *zap.Logger) {
	raw, err := json.Marshal(reportCacheEntry{
		Report:   report,
		Metadata: md,
		CostUSD:  md.TotalCostActualUSD,
	})
	if err != nil {
		log.Warn("pipeline: analysis not serialisable", zap.Error(err))
		return
	}
	if err := p.store.SetStage(ctx, key, raw, p.reportTTL); err != nil {
		log.Warn("pipeline: analysis cache write failed", zap.Error(err))
	}
}

// reviveReport rebuilds a cached analysis as this run's result: identical
// stage outputs, zero token usage, fresh timing, zero actual cost.
func reviveReport(entry *reportCacheEntry, generatedAt time.Time, elapsed time.Duration) model.Report {
	report := entry.Report
	zeroUsageStats(report)

	md := entry.Metadata
	md.GeneratedAt = generatedAt
	md.ProcessingTimeSeconds = round2(elapsed.Seconds())
	md.TotalCostActualUSD = 0
	md.LoggingSummary.Stages = cachedStageLogs(md.StagesCompleted)
	report[model.MetadataKey] = md
	return report
}

func cachedStageLogs(ids []string) []model.StageLog {
	logs := make([]model.StageLog, 0, len(ids))
	for _, id := range ids {
		logs = append(logs, model.StageLog{Stage: id, Status: "completed", Cached: true})
	}
	return logs
}

// stageCacheKey derives the deterministic cache key for one stage run. The
// hash covers the submission content, the stage inputs, and the prompt pack
// version, so a prompt bump invalidates every cached stage at once.
func stageCacheKey(id string, sub model.Submission, inputs any) (string, error) {
	h8, err := cache.Hash8(map[string]any{
		"submission": submissionKey(sub),
		"inputs":     inputs,
		"prompts":    stage.PromptsVersion(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("stage:%s:%s:%s:%s", id, sub.Company, sub.Industry, h8), nil
}

// reportCacheKey is the whole-analysis key. The flow flag participates: a
// short run and a full run of the same submission are different products.
func reportCacheKey(sub model.Submission, runAll bool) (string, error) {
	h8, err := cache.Hash8(map[string]any{
		"submission": submissionKey(sub),
		"run_all":    runAll,
		"prompts":    stage.PromptsVersion(),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("analysis:%s:%s:%s", sub.Company, sub.Industry, h8), nil
}

// submissionKey is the submission content that feeds cache hashes. The id
// is deliberately absent: resubmitting the same company data shares cache
// entries regardless of which run produced them.
func submissionKey(sub model.Submission) map[string]any {
	return map[string]any{
		"company":              sub.Company,
		"industry":             sub.Industry,
		"website_url":          sub.WebsiteURL,
		"challenge":            sub.Challenge,
		"linkedin_company_url": sub.LinkedInCompanyURL,
		"linkedin_founder_url": sub.LinkedInFounderURL,
	}
}

// withoutUsage shallow-copies a stage output minus its usage block. This is
// the form downstream prompts and cache hashes consume, so a cached and a
// fresh upstream output hash identically.
func withoutUsage(out map[string]any) map[string]any {
	clean := make(map[string]any, len(out))
	for k, v := range out {
		if k == model.UsageStatsKey {
			continue
		}
		clean[k] = v
	}
	return clean
}

// zeroUsageStats rewrites every _usage_stats block in the tree to zero
// tokens.
func zeroUsageStats(tree map[string]any) {
	for k, v := range tree {
		if k == model.UsageStatsKey {
			tree[k] = map[string]any{"input_tokens": 0, "output_tokens": 0}
			continue
		}
		switch child := v.(type) {
		case map[string]any:
			zeroUsageStats(child)
		case []any:
			for _, item := range child {
				if m, ok := item.(map[string]any); ok {
					zeroUsageStats(m)
				}
			}
		}
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
