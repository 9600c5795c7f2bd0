// Package pipeline orchestrates one analysis run end to end: the data-source
// fan-out, trust-weighted reconciliation, the six LLM stages with per-stage
// caching, graceful degradation, and the metadata the report carries home.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/cache"
	"github.com/horizonte-ai/atlas/internal/cost"
	"github.com/horizonte-ai/atlas/internal/enrich"
	"github.com/horizonte-ai/atlas/internal/llm"
	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/reconcile"
	"github.com/horizonte-ai/atlas/internal/session"
	"github.com/horizonte-ai/atlas/internal/stage"
)

// Fixed report keys the orchestrator merges stage outputs under. The four
// parte_* keys come from stage 3/6 and sit beside these at the root.
const (
	KeyFollowUp    = "pesquisa_complementar"
	KeyCompetitive = "inteligencia_competitiva"
	KeyRiskMatrix  = "priorizacao_riscos"
)

const defaultTimeout = 5 * time.Minute

// Pipeline runs submissions through the full analysis flow. Safe for
// concurrent use; all per-run state lives on the stack.
type Pipeline struct {
	store    session.Store
	cache    *cache.Tiered
	registry *enrich.Registry
	runner   *stage.Runner

	trust          *reconcile.TrustConfig
	policy         enrich.Policy
	ledger         *cost.Ledger
	timeout        time.Duration
	gatherDeadline time.Duration
	stageTTL       time.Duration
	reportTTL      time.Duration
	nowFunc        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTrust replaces the default source trust table.
func WithTrust(trust *reconcile.TrustConfig) Option {
	return func(p *Pipeline) { p.trust = trust }
}

// WithPolicy sets which adapter tiers a run may call.
func WithPolicy(policy enrich.Policy) Option {
	return func(p *Pipeline) { p.policy = policy }
}

// WithLedger mirrors every run's cost trace into a process-wide ledger for
// the stats surface.
func WithLedger(l *cost.Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithTimeout bounds one full analysis run.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithGatherDeadline bounds the stage-1 source fan-out.
func WithGatherDeadline(d time.Duration) Option {
	return func(p *Pipeline) { p.gatherDeadline = d }
}

// WithCacheTTLs overrides the per-stage and whole-analysis cache lifetimes.
func WithCacheTTLs(stageTTL, reportTTL time.Duration) Option {
	return func(p *Pipeline) {
		if stageTTL > 0 {
			p.stageTTL = stageTTL
		}
		if reportTTL > 0 {
			p.reportTTL = reportTTL
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.nowFunc = now }
}

// New assembles a pipeline around the session store, the tiered cache, the
// adapter registry, and the stage runner.
func New(st session.Store, tiered *cache.Tiered, registry *enrich.Registry, runner *stage.Runner, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:          st,
		cache:          tiered,
		registry:       registry,
		runner:         runner,
		trust:          reconcile.DefaultTrustConfig(),
		timeout:        defaultTimeout,
		gatherDeadline: enrich.DefaultGatherDeadline,
		stageTTL:       defaultStageTTL,
		reportTTL:      defaultReportTTL,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Analyse creates a run record for the submission and executes it. runAll
// false runs the short flow: extraction, strategy, polish.
func (p *Pipeline) Analyse(ctx context.Context, sub model.Submission, runAll bool) (model.Report, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	run, err := p.store.CreateRun(ctx, sub)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return p.execute(ctx, run, runAll, nil)
}

// Execute runs a previously created run record, as the serve worker does
// after answering 202.
func (p *Pipeline) Execute(ctx context.Context, run *model.AnalysisRun, runAll bool) (model.Report, error) {
	return p.execute(ctx, run, runAll, nil)
}

// ExecuteWithData skips the source fan-out and treats fields as the already
// reconciled external data.
func (p *Pipeline) ExecuteWithData(ctx context.Context, run *model.AnalysisRun, runAll bool, fields map[string]any) (model.Report, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	return p.execute(ctx, run, runAll, fields)
}

func (p *Pipeline) execute(ctx context.Context, run *model.AnalysisRun, runAll bool, prefetched map[string]any) (model.Report, error) {
	sub := run.Submission
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("company", sub.Company),
		zap.Bool("run_all_stages", runAll),
	)
	log.Info("pipeline: starting analysis")

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := p.nowFunc()
	tracker := cost.NewTracker()
	if p.ledger != nil {
		defer func() { p.ledger.AddAll(tracker.Entries()) }()
	}
	rlog := newRunLog()

	setState := func(state model.ProcessingState) {
		if err := p.store.UpdateRunState(ctx, run.ID, state); err != nil {
			log.Warn("pipeline: state update failed",
				zap.String("state", string(state)),
				zap.Error(err),
			)
		}
	}

	// A finished analysis of the same submission content is replayed
	// wholesale: byte-identical stage outputs, zero token usage, zero cost.
	reportKey, keyErr := reportCacheKey(sub, runAll)
	if keyErr != nil {
		log.Warn("pipeline: analysis not cacheable", zap.Error(keyErr))
	} else if entry := p.lookupReport(ctx, reportKey, log); entry != nil {
		p.cache.AddCostSaved(entry.CostUSD)
		report := reviveReport(entry, p.nowFunc().UTC(), p.nowFunc().Sub(start))
		if err := p.store.CompleteRun(ctx, run.ID, report); err != nil {
			log.Warn("pipeline: persist result failed", zap.Error(err))
		}
		log.Info("pipeline: analysis served from cache",
			zap.Float64("cost_saved_usd", entry.CostUSD),
		)
		return report, nil
	}

	// ===== External data: fan-out and reconciliation =====
	external := map[string]any{}
	fields := prefetched
	if fields == nil {
		setState(model.StateDataGathering)
		results := p.gather(ctx, sub, rlog, tracker, log)
		outcome := p.mergeSources(ctx, results, log)
		fields = outcome.Fields
		external["field_confidences"] = outcome.Confidences
		external["field_sources"] = outcome.Sources
	}
	external["reconciled_fields"] = fields

	coverage := stage.Coverage(fields)
	tier := stage.TierFromCoverage(coverage)
	rlog.setFields(fields)
	log.Info("pipeline: external data ready",
		zap.Float64("coverage", coverage),
		zap.String("tier", string(tier)),
	)

	// ===== Stage 1: extraction (fatal) =====
	setState(model.StateAIAnalyzing)

	res1, err := p.runStage(ctx, log, rlog, stage.StageExtraction, sub, external, func() (*stage.Result, error) {
		return p.runner.Extraction(ctx, sub, external, tracker)
	})
	if err != nil {
		return nil, p.fail(ctx, log, run.ID, stage.StageExtraction, err)
	}
	extraction := withoutUsage(res1.Output)

	// ===== Stage 2: follow-up research (full run, never fatal) =====
	var followUp *stage.Result
	if runAll {
		if p.runner.HasResearcher() {
			followUp, _ = p.runStage(ctx, log, rlog, stage.StageGapAnalysis, sub, extraction, func() (*stage.Result, error) {
				return p.runner.GapAnalysis(ctx, sub, extraction, tracker), nil
			})
		} else {
			rlog.skip(stage.StageGapAnalysis, "no research provider configured")
		}
	}

	// ===== Stage 3: strategic frameworks (fatal) =====
	res3, err := p.runStage(ctx, log, rlog, stage.StageStrategy, sub,
		map[string]any{"extraction": extraction, "tier": string(tier)},
		func() (*stage.Result, error) {
			return p.runner.Strategy(ctx, sub, extraction, tier, tracker)
		})
	if err != nil {
		return nil, p.fail(ctx, log, run.ID, stage.StageStrategy, err)
	}
	strategy := withoutUsage(res3.Output)

	// ===== Stages 4 and 5: competitive matrix, risk scoring (non-fatal) =====
	var competitive, risks *stage.Result
	if runAll {
		competitive, err = p.runStage(ctx, log, rlog, stage.StageCompetitive, sub, extraction, func() (*stage.Result, error) {
			return p.runner.Competitive(ctx, sub, extraction, tracker)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.fail(ctx, log, run.ID, stage.StageCompetitive, err)
			}
			log.Warn("pipeline: competitive analysis dropped", zap.Error(err))
			competitive = nil
		}

		risks, err = p.runStage(ctx, log, rlog, stage.StageRiskScoring, sub, strategy, func() (*stage.Result, error) {
			return p.runner.RiskScoring(ctx, sub, strategy, tracker)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, p.fail(ctx, log, run.ID, stage.StageRiskScoring, err)
			}
			log.Warn("pipeline: risk scoring dropped", zap.Error(err))
			risks = nil
		}
	}

	// ===== Stage 6: polish, degrading to the unpolished report =====
	finalParts := res3.Output
	polished, err := p.runStage(ctx, log, rlog, stage.StagePolish, sub, strategy, func() (*stage.Result, error) {
		return p.runner.Polish(ctx, sub, strategy, tracker)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, p.fail(ctx, log, run.ID, stage.StagePolish, err)
		}
		log.Warn("pipeline: polish failed, keeping the unpolished report", zap.Error(err))
	} else {
		finalParts = polished.Output
	}

	// ===== Assemble report and metadata =====
	setState(model.StateFinalizing)

	report := make(model.Report, len(finalParts)+4)
	for k, v := range finalParts {
		report[k] = v
	}
	if followUp != nil {
		report[KeyFollowUp] = followUp.Output
	}
	if competitive != nil {
		report[KeyCompetitive] = competitive.Output
	}
	if risks != nil {
		report[KeyRiskMatrix] = risks.Output
	}

	md := model.Metadata{
		GeneratedAt:           p.nowFunc().UTC(),
		ProcessingTimeSeconds: round2(p.nowFunc().Sub(start).Seconds()),
		StagesCompleted:       rlog.completed(),
		ModelsUsed:            rlog.models(),
		QualityTier:           model.QualityTier(tier),
		TotalCostActualUSD:    tracker.Total(),
		LoggingSummary:        rlog.summary(),
	}

	if keyErr == nil {
		p.storeReport(ctx, reportKey, report, md, log)
	}
	report[model.MetadataKey] = md

	if err := p.store.CompleteRun(ctx, run.ID, report); err != nil {
		log.Warn("pipeline: persist result failed", zap.Error(err))
	}

	log.Info("pipeline: analysis complete",
		zap.String("tier", string(tier)),
		zap.Int("stages", len(md.StagesCompleted)),
		zap.Float64("cost_usd", md.TotalCostActualUSD),
		zap.Float64("elapsed_s", md.ProcessingTimeSeconds),
	)
	return report, nil
}

// FatalStageError reports a stage failure that terminates the run: the
// extraction and strategy stages always, any stage when the run context is
// gone. The run is marked failed and no later stage runs.
type FatalStageError struct {
	Stage string
	Err   error
}

func (e *FatalStageError) Error() string {
	return fmt.Sprintf("pipeline: stage %s: %v", e.Stage, e.Err)
}

func (e *FatalStageError) Unwrap() error { return e.Err }

// fail marks the run failed with the failing stage named in the message and
// wraps the error as a FatalStageError around the external-service failure
// the API layer reports. The state write survives an expired run context.
func (p *Pipeline) fail(ctx context.Context, log *zap.Logger, runID, stageID string, err error) error {
	msg := fmt.Sprintf("%s: %v", stageID, err)
	if ferr := p.store.FailRun(context.WithoutCancel(ctx), runID, msg); ferr != nil {
		log.Warn("pipeline: mark run failed", zap.Error(ferr))
	}
	log.Error("pipeline: analysis failed",
		zap.String("stage", stageID),
		zap.Error(err),
	)
	var ext *llm.ExternalServiceError
	if !errors.As(err, &ext) {
		err = &llm.ExternalServiceError{Stage: stageID, Attempts: 1, Err: err}
	}
	return &FatalStageError{Stage: stageID, Err: err}
}
