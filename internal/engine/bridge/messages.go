package bridge

import "github.com/verte-zerg/tuispeak/internal/engine"

type controlMessage struct {
	Event         string `json:"event"`
	Mode          string `json:"mode,omitempty"`
	ReferenceText string `json:"reference_text,omitempty"`
	Language      string `json:"language,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Granularity   string `json:"granularity,omitempty"`
	Grading       string `json:"grading,omitempty"`
}

type eventMessage struct {
	Type       string          `json:"type"`
	Text       string          `json:"text,omitempty"`
	Status     string          `json:"status,omitempty"`
	Assessment *wireAssessment `json:"assessment,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Code       int             `json:"code,omitempty"`
	Details    string          `json:"details,omitempty"`
}

type wireAssessment struct {
	AccuracyScore      float64    `json:"accuracy_score"`
	FluencyScore       float64    `json:"fluency_score"`
	CompletenessScore  float64    `json:"completeness_score"`
	PronunciationScore float64    `json:"pronunciation_score"`
	ProsodyScore       *float64   `json:"prosody_score,omitempty"`
	Words              []wireWord `json:"words"`
}

type wireWord struct {
	Word          string  `json:"word"`
	ErrorType     string  `json:"error_type"`
	AccuracyScore float64 `json:"accuracy_score"`
}

// reason maps the final-event status; anything but recognized speech is a no-match.
func (m eventMessage) reason() engine.Reason {
	switch m.Status {
	case "", "recognized_speech":
		return engine.ReasonRecognizedSpeech
	default:
		return engine.ReasonNoMatch
	}
}

func (a *wireAssessment) toEngine() *engine.Assessment {
	if a == nil {
		return nil
	}
	out := &engine.Assessment{
		AccuracyScore:      a.AccuracyScore,
		FluencyScore:       a.FluencyScore,
		CompletenessScore:  a.CompletenessScore,
		PronunciationScore: a.PronunciationScore,
		ProsodyScore:       a.ProsodyScore,
	}
	if a.Words != nil {
		out.Words = make([]engine.WordAssessment, 0, len(a.Words))
		for _, w := range a.Words {
			out.Words = append(out.Words, engine.WordAssessment{
				Word:          w.Word,
				ErrorType:     w.ErrorType,
				AccuracyScore: w.AccuracyScore,
			})
		}
	}
	return out
}
