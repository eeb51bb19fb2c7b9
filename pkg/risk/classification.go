package risk

import (
	"strings"
	"unicode"
)

// Classification is the four-valued risk outcome of an answer.
type Classification string

const (
	Positive Classification = "Positive"
	Negative Classification = "Negative"
	Partial  Classification = "Partial"
	Missing  Classification = "Missing"
)

// Risk maps a classification to its numeric risk. Negative and Missing
// share the maximal value; anything unknown is treated as Negative.
func (c Classification) Risk() float64 {
	switch c {
	case Positive:
		return 0.0
	case Partial:
		return 0.5
	default:
		return 1.0
	}
}

// Parsed is a classification read from model output.
type Parsed struct {
	Classification Classification `json:"classification"`
	// Recognized is false when Raw was not one of the four labels and the
	// classification fell back to Negative.
	Recognized bool   `json:"recognized"`
	Raw        string `json:"raw,omitempty"`
}

var labels = map[string]Classification{
	"positive": Positive,
	"negative": Negative,
	"partial":  Partial,
	"missing":  Missing,
}

// ParseClassification reads a label case-insensitively. Surrounding
// punctuation and markup are ignored; anything other than exactly one
// label word falls back to Negative.
func ParseClassification(raw string) Parsed {
	words := strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(words) == 1 {
		if c, ok := labels[words[0]]; ok {
			return Parsed{Classification: c, Recognized: true, Raw: raw}
		}
	}
	return Parsed{Classification: Negative, Recognized: false, Raw: raw}
}
