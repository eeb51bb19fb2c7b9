package common

import (
	"fmt"
	"strings"
)

// Fragment is an indexed unit of source text. Fragments are immutable once
// stored; ID is derived from Source and Position so re-ingesting the same
// source never produces duplicates.
type Fragment struct {
	ID       string   `json:"id"`
	Source   string   `json:"source"`
	Position int      `json:"position"`
	Text     string   `json:"text"`
	Concepts []string `json:"concepts,omitempty"`
}

// Document is extracted text for one source (a filing, a scraped page)
// before it is split into fragments.
type Document struct {
	Source string `json:"source"`
	Text   string `json:"text"`
}

// Question is a due-diligence question. Critical questions additionally
// carry a risk category and a positive weight.
type Question struct {
	ID       string  `json:"id" yaml:"id" validate:"required"`
	Text     string  `json:"question" yaml:"question" validate:"required"`
	Category string  `json:"category,omitempty" yaml:"category,omitempty"`
	Weight   float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// RetrievedFragment is one entry of a RetrievalResult. Ranks are 1-based;
// zero means the fragment was not produced by that ranking.
type RetrievedFragment struct {
	FragmentID     string  `json:"fragment_id"`
	Source         string  `json:"source,omitempty"`
	Text           string  `json:"text"`
	Score          float64 `json:"score"`
	SemanticRank   int     `json:"semantic_rank,omitempty"`
	GraphRank      int     `json:"graph_rank,omitempty"`
	Similarity     float64 `json:"similarity,omitempty"`
	SharedConcepts int     `json:"shared_concepts,omitempty"`
}

// RetrievalResult is the ordered context retrieved for a question.
type RetrievalResult struct {
	Question  string              `json:"question"`
	Fragments []RetrievedFragment `json:"fragments"`
}

// Empty reports whether no context was found.
func (r RetrievalResult) Empty() bool {
	return len(r.Fragments) == 0
}

// IDs returns the fragment ids in rank order.
func (r RetrievalResult) IDs() []string {
	ids := make([]string, 0, len(r.Fragments))
	for _, f := range r.Fragments {
		ids = append(ids, f.FragmentID)
	}
	return ids
}

// ContextText renders the fragments as the context block handed to the
// language model. Each fragment is tagged with its id so answers can cite it.
func (r RetrievalResult) ContextText() string {
	var b strings.Builder
	for i, f := range r.Fragments {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[[%s]]", f.FragmentID)
		if f.Source != "" {
			fmt.Fprintf(&b, " (%s)", f.Source)
		}
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(f.Text))
	}
	return b.String()
}

type AnswerStatus string

const (
	AnswerFound    AnswerStatus = "Found"
	AnswerNotFound AnswerStatus = "NotFound"
)

// AnswerRecord is one row of the answers table.
type AnswerRecord struct {
	QuestionID   string       `json:"question_id"`
	QuestionText string       `json:"question_text"`
	AnswerText   string       `json:"answer_text"`
	Status       AnswerStatus `json:"status"`
}

type GapStatus string

const (
	GapNoContext GapStatus = "NoContext"
	GapParsed    GapStatus = "ParsedGap"
	GapUnparsed  GapStatus = "UnparsedGap"
)

// GapRecord is one row of the gaps table. It is created once per question
// and only replaced by a full re-run.
type GapRecord struct {
	QuestionID string    `json:"question_id"`
	Status     GapStatus `json:"status"`
	Detail     string    `json:"detail"`
}

// TotalKey is the scores map key holding the global weighted percentage.
const TotalKey = "TOTAL"
