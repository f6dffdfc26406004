// Package assess turns engine word assessments into error reports.
package assess

import (
	"errors"
	"strings"
	"unicode"

	"github.com/verte-zerg/tuispeak/internal/engine"
	"github.com/verte-zerg/tuispeak/internal/model"
)

// MispronunciationThreshold is the accuracy below which a word counts as
// mispronounced even when the engine reports no error subtype.
const MispronunciationThreshold = 80.0

// ErrMalformedAssessment reports an assessed final without word-level data.
// Scores returned alongside it hold omission errors only.
var ErrMalformedAssessment = errors.New("assessment payload is missing word results")

// Words lowercases text and splits it on whitespace. Surrounding punctuation
// is trimmed so "dog." and "dog" compare equal, matching engine tokens.
func Words(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		f = strings.TrimFunc(f, unicode.IsPunct)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// Classify builds the ordered error list for one assessed utterance.
// Engine-reported errors come first in engine order, omissions follow in
// reference order. A word appears at most once per class; a word may be
// reported both as mispronounced and omitted. When present is false the
// engine word list is ignored and only omissions are reported.
func Classify(referenceText, spokenText string, words []engine.WordAssessment, present bool) []model.ErrorRecord {
	var out []model.ErrorRecord
	if present {
		seen := make(map[string]struct{})
		for _, w := range words {
			if w.Word == "" {
				continue
			}
			errType := model.ErrorType(w.ErrorType)
			if errType == "" {
				errType = model.ErrorNone
			}
			if errType == model.ErrorNone && w.AccuracyScore >= MispronunciationThreshold {
				continue
			}
			key := normalizeWord(w.Word)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, model.ErrorRecord{
				Word:      w.Word,
				ErrorType: errType,
				Accuracy:  w.AccuracyScore,
			})
		}
	}

	spoken := make(map[string]struct{})
	for _, w := range Words(spokenText) {
		spoken[w] = struct{}{}
	}
	omitted := make(map[string]struct{})
	for _, w := range Words(referenceText) {
		if _, ok := spoken[w]; ok {
			continue
		}
		if _, ok := omitted[w]; ok {
			continue
		}
		omitted[w] = struct{}{}
		out = append(out, model.ErrorRecord{Word: w, ErrorType: model.ErrorOmission})
	}
	return out
}

// Score converts an engine assessment into Scores. A nil assessment or one
// without word results degrades to omission-only detection and returns
// ErrMalformedAssessment with the partial scores.
func Score(referenceText, spokenText string, a *engine.Assessment) (model.Scores, error) {
	if a == nil {
		return model.Scores{Errors: Classify(referenceText, spokenText, nil, false)}, ErrMalformedAssessment
	}
	scores := model.Scores{
		Accuracy:      a.AccuracyScore,
		Fluency:       a.FluencyScore,
		Completeness:  a.CompletenessScore,
		Pronunciation: a.PronunciationScore,
	}
	if a.ProsodyScore != nil {
		p := *a.ProsodyScore
		scores.Prosody = &p
	}
	present := a.Words != nil
	scores.Errors = Classify(referenceText, spokenText, a.Words, present)
	if !present {
		return scores, ErrMalformedAssessment
	}
	return scores, nil
}

// FilterForReference drops errors whose word does not occur in referenceText.
func FilterForReference(scores model.Scores, referenceText string) model.Scores {
	out := scores.Clone()
	ref := make(map[string]struct{})
	for _, w := range Words(referenceText) {
		ref[w] = struct{}{}
	}
	filtered := out.Errors[:0]
	for _, e := range out.Errors {
		if _, ok := ref[normalizeWord(e.Word)]; ok {
			filtered = append(filtered, e)
		}
	}
	out.Errors = filtered
	return out
}

func normalizeWord(w string) string {
	return strings.TrimFunc(strings.ToLower(strings.TrimSpace(w)), unicode.IsPunct)
}
