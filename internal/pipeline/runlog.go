package pipeline

import (
	"time"

	"github.com/horizonte-ai/atlas/internal/model"
)

// Stage log status values.
const (
	statusCompleted = "completed"
	statusFailed    = "failed"
	statusSkipped   = "skipped"
)

// runLog captures per-stage outcomes, validation warnings, and source
// counts for one run. It is not safe for concurrent use; stages run
// sequentially and the fan-out reports once, so it never needs to be.
type runLog struct {
	stages      []model.StageLog
	warnings    []string
	fieldsFound int
	sourcesOK   int
	sourcesFail int
}

func newRunLog() *runLog {
	return &runLog{}
}

func (l *runLog) done(id, modelUsed string, elapsed time.Duration, cached bool) {
	l.stages = append(l.stages, model.StageLog{
		Stage:      id,
		Status:     statusCompleted,
		Model:      modelUsed,
		DurationMS: elapsed.Milliseconds(),
		Cached:     cached,
	})
}

func (l *runLog) failed(id string, elapsed time.Duration, err error) {
	entry := model.StageLog{
		Stage:      id,
		Status:     statusFailed,
		DurationMS: elapsed.Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	l.stages = append(l.stages, entry)
}

func (l *runLog) skip(id, reason string) {
	l.stages = append(l.stages, model.StageLog{
		Stage:  id,
		Status: statusSkipped,
		Error:  reason,
	})
}

func (l *runLog) warn(ws ...string) {
	l.warnings = append(l.warnings, ws...)
}

// setFields counts how much of the shared lexicon the reconciled data
// covers.
func (l *runLog) setFields(fields map[string]any) {
	found := 0
	for _, name := range model.FieldLexicon {
		if v, ok := fields[name]; ok && v != nil {
			found++
		}
	}
	l.fieldsFound = found
}

func (l *runLog) setSources(results []model.SourceResult) {
	l.sourcesOK, l.sourcesFail = 0, 0
	for _, r := range results {
		if r.Success {
			l.sourcesOK++
		} else {
			l.sourcesFail++
		}
	}
}

// completed lists the stage ids that produced output, in execution order.
func (l *runLog) completed() []string {
	ids := make([]string, 0, len(l.stages))
	for _, s := range l.stages {
		if s.Status == statusCompleted {
			ids = append(ids, s.Stage)
		}
	}
	return ids
}

// models maps each completed stage to the model that served it. Stages
// that never called an LLM are absent.
func (l *runLog) models() map[string]string {
	used := make(map[string]string, len(l.stages))
	for _, s := range l.stages {
		if s.Status == statusCompleted && s.Model != "" {
			used[s.Stage] = s.Model
		}
	}
	return used
}

func (l *runLog) summary() model.LoggingSummary {
	return model.LoggingSummary{
		Stages:             l.stages,
		ValidationWarnings: l.warnings,
		FieldsFound:        l.fieldsFound,
		FieldsExpected:     len(model.FieldLexicon),
		SourcesSucceeded:   l.sourcesOK,
		SourcesFailed:      l.sourcesFail,
	}
}
