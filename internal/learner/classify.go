package learner

import (
	"context"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/horizonte-ai/atlas/internal/model"
)

// ClassifyEdit grades how far a user edit moved from the suggested value
// and returns the rune-level Levenshtein distance alongside. Bands follow
// similarity = 1 - distance/longest.
func ClassifyEdit(original, edited string) (model.EditType, int) {
	if original == edited {
		return model.EditNoChange, 0
	}

	distance := levenshtein.Distance(original, edited, nil)
	longest := len([]rune(original))
	if n := len([]rune(edited)); n > longest {
		longest = n
	}
	if longest == 0 {
		return model.EditNoChange, 0
	}

	similarity := 1 - float64(distance)/float64(longest)
	switch {
	case similarity > 0.9:
		return model.EditMinor, distance
	case similarity > 0.7:
		return model.EditCorrection, distance
	case similarity > 0.4:
		return model.EditMajor, distance
	default:
		return model.EditCompleteRewrite, distance
	}
}

// SignificantEdit reports whether an edit type means the suggestion was
// substantially wrong.
func SignificantEdit(t model.EditType) bool {
	return t == model.EditMajor || t == model.EditCompleteRewrite
}

// RecordEdit classifies a user edit against its suggestion, marks the
// suggestion edited, and appends the validation-history record the next
// refresh consumes. Confirmations (no change) only append history.
func (l *Learner) RecordEdit(ctx context.Context, sug *model.AutoFillSuggestion, editedValue, userID string) (*model.ValidationRecord, error) {
	editType, distance := ClassifyEdit(sug.SuggestedValue, editedValue)
	now := l.nowFunc().UTC()

	if editType != model.EditNoChange {
		if err := l.store.MarkSuggestionEdited(ctx, sug.ID, editedValue, now); err != nil {
			return nil, eris.Wrapf(err, "learner: mark suggestion %s edited", sug.ID)
		}
	}

	rec := &model.ValidationRecord{
		ID:                 uuid.New().String(),
		SessionID:          sug.SessionID,
		FieldName:          sug.FieldName,
		OriginalValue:      sug.SuggestedValue,
		EditedValue:        editedValue,
		Source:             sug.Source,
		OriginalConfidence: sug.ConfidenceScore,
		EditDistance:       distance,
		EditType:           editType,
		UserID:             userID,
		CreatedAt:          now,
	}
	if err := l.store.RecordValidation(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "learner: record validation")
	}
	return rec, nil
}
