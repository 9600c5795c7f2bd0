// Package learner maintains the per-(source, field) trust table from the
// user-edit history: suggestions that users keep rewriting lose confidence,
// suggestions they leave alone gain it. The refresh job is idempotent and
// safe to cancel between upserts.
package learner

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/horizonte-ai/atlas/internal/model"
	"github.com/horizonte-ai/atlas/internal/session"
)

// Confidence never reaches 1.0, so a learned source can always be outvoted
// by fresher evidence.
const (
	MinConfidence = 0.10
	MaxConfidence = 0.98

	minAdjustment = 0.7
	maxAdjustment = 1.2

	// initialConfidence seeds a pair the first time the learner sees it.
	initialConfidence = 0.80

	// DefaultWindow is the history horizon one refresh considers.
	DefaultWindow = 30 * 24 * time.Hour

	// DefaultMinSuggestions is the volume floor below which a pair keeps
	// its current confidence untouched.
	DefaultMinSuggestions = 10

	// upsertChunkSize bounds one batch write; cancellation is honoured
	// between chunks.
	upsertChunkSize = 100
)

// Learner recomputes source-performance rows from suggestion and edit
// aggregates.
type Learner struct {
	store          session.Store
	window         time.Duration
	minSuggestions int
	nowFunc        func() time.Time
}

// Option configures a Learner.
type Option func(*Learner)

// WithWindow sets the history horizon.
func WithWindow(d time.Duration) Option {
	return func(l *Learner) { l.window = d }
}

// WithMinSuggestions sets the per-pair volume floor.
func WithMinSuggestions(n int) Option {
	return func(l *Learner) { l.minSuggestions = n }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Learner) { l.nowFunc = now }
}

// New builds a learner over the session store.
func New(st session.Store, opts ...Option) *Learner {
	l := &Learner{
		store:          st,
		window:         DefaultWindow,
		minSuggestions: DefaultMinSuggestions,
		nowFunc:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RefreshSourceConfidences recomputes confidence for every (source, field)
// pair with enough recent volume and upserts the results in chunked batch
// writes. It returns the number of pairs written; on error the chunks
// already committed stay valid.
func (l *Learner) RefreshSourceConfidences(ctx context.Context) (int, error) {
	since := l.nowFunc().UTC().Add(-l.window)
	log := zap.L().With(zap.Time("since", since))

	suggestions, err := l.store.SuggestionStats(ctx, since)
	if err != nil {
		return 0, eris.Wrap(err, "learner: suggestion stats")
	}
	editStats, err := l.store.EditStats(ctx, since)
	if err != nil {
		return 0, eris.Wrap(err, "learner: edit stats")
	}

	edits := make(map[[2]string]session.EditStat, len(editStats))
	for _, es := range editStats {
		edits[[2]string{es.Source, es.FieldName}] = es
	}

	recs := make([]model.SourcePerformance, 0, len(suggestions))
	belowFloor := 0
	for _, sug := range suggestions {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if sug.Suggestions < l.minSuggestions {
			belowFloor++
			continue
		}

		es := edits[[2]string{sug.Source, sug.FieldName}]
		editRate := float64(es.Edits) / float64(sug.Suggestions)
		var significantRate, avgDistance float64
		if es.Edits > 0 {
			significantRate = float64(es.SignificantEdits) / float64(es.Edits)
			avgDistance = float64(es.TotalEditDistance) / float64(es.Edits)
		}
		mult := multiplier(editRate, significantRate, avgDistance)

		base := initialConfidence
		perf, err := l.store.GetSourcePerformance(ctx, sug.Source, sug.FieldName)
		if err != nil {
			return 0, eris.Wrapf(err, "learner: load %s/%s", sug.Source, sug.FieldName)
		}
		if perf != nil {
			base = perf.ConfidenceScore
		}

		rec := model.SourcePerformance{
			Source:            sug.Source,
			FieldName:         sug.FieldName,
			ConfidenceScore:   clamp(base*mult, MinConfidence, MaxConfidence),
			SuccessRate:       1 - editRate,
			TotalAttempts:     sug.Suggestions,
			SuccessfulFills:   sug.Suggestions - es.Edits,
			LearnedAdjustment: clamp(mult, minAdjustment, maxAdjustment),
			LastUpdated:       l.nowFunc().UTC(),
		}
		recs = append(recs, rec)

		log.Debug("learner: pair refreshed",
			zap.String("source", sug.Source),
			zap.String("field", sug.FieldName),
			zap.Float64("edit_rate", editRate),
			zap.Float64("multiplier", mult),
			zap.Float64("confidence", rec.ConfidenceScore),
		)
	}

	updated := 0
	for start := 0; start < len(recs); start += upsertChunkSize {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		end := start + upsertChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		if err := l.store.UpsertSourcePerformanceBatch(ctx, recs[start:end]); err != nil {
			return updated, eris.Wrapf(err, "learner: upsert pairs %d-%d", start, end-1)
		}
		updated += end - start
	}

	log.Info("learner: refresh complete",
		zap.Int("updated", updated),
		zap.Int("below_volume_floor", belowFloor),
	)
	return updated, nil
}

// multiplier applies the adjustment ladder to one pair's aggregates. Rungs
// stack multiplicatively.
func multiplier(editRate, significantRate, avgDistance float64) float64 {
	m := 1.0
	if editRate > 0.30 {
		m *= math.Max(0.7, 1-(editRate-0.30)/0.70)
	}
	if editRate < 0.05 {
		m *= 1.2
	}
	if significantRate > 0.5 {
		m *= 0.85
	}
	if avgDistance > 10 {
		m *= 0.90
	} else if avgDistance < 2 && editRate > 0 {
		m *= 1.05
	}
	return m
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
