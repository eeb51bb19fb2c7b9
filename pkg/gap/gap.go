package gap

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
)

const noContextDetail = "no context retrieved for this question"

// Model produces a raw gap analysis for an answered question.
type Model interface {
	DetectGap(ctx context.Context, question, contextText, answer string) (string, error)
}

// Analysis is the structured gap description a model is asked for.
type Analysis struct {
	IsGap              *bool    `json:"is_gap"`
	MissingInformation []string `json:"missing_information"`
	FollowUpQuestions  []string `json:"follow_up_questions"`
	Reason             string   `json:"reason"`
}

// Detector classifies each answered question as NoContext, ParsedGap or
// UnparsedGap. It makes at most one model call per question and never
// retries on its own.
type Detector struct {
	model Model
}

func NewDetector(model Model) *Detector {
	return &Detector{model: model}
}

// Detect returns the gap record for one question. It never fails: model
// errors and malformed output are recorded as UnparsedGap.
func (d *Detector) Detect(
	ctx context.Context,
	question common.Question,
	retrieval common.RetrievalResult,
	answer common.AnswerRecord,
) common.GapRecord {
	rec := common.GapRecord{QuestionID: question.ID}

	if retrieval.Empty() {
		rec.Status = common.GapNoContext
		rec.Detail = noContextDetail
		return rec
	}

	raw, err := d.model.DetectGap(ctx, question.Text, retrieval.ContextText(), answer.AnswerText)
	if err != nil {
		logger.Warn("[Gap] Gap analysis failed", "question_id", question.ID, "err", err)
		rec.Status = common.GapUnparsed
		rec.Detail = fmt.Sprintf("gap analysis failed: %v", err)
		return rec
	}

	analysis, ok := parse(raw)
	if !ok {
		logger.Debug("[Gap] Unstructured gap analysis", "question_id", question.ID)
		rec.Status = common.GapUnparsed
		rec.Detail = raw
		return rec
	}

	detail, err := json.Marshal(analysis)
	if err != nil {
		rec.Status = common.GapUnparsed
		rec.Detail = raw
		return rec
	}
	rec.Status = common.GapParsed
	rec.Detail = string(detail)
	return rec
}

func parse(raw string) (Analysis, bool) {
	var a Analysis
	if err := ai.UnmarshalFlexible(raw, &a); err != nil {
		return Analysis{}, false
	}
	if a.IsGap == nil {
		return Analysis{}, false
	}
	if a.MissingInformation == nil {
		a.MissingInformation = []string{}
	}
	if a.FollowUpQuestions == nil {
		a.FollowUpQuestions = []string{}
	}
	return a, true
}

// ParseRecord decodes the analysis held by a ParsedGap record.
func ParseRecord(rec common.GapRecord) (Analysis, bool) {
	if rec.Status != common.GapParsed {
		return Analysis{}, false
	}
	var a Analysis
	if err := json.Unmarshal([]byte(rec.Detail), &a); err != nil {
		return Analysis{}, false
	}
	return a, a.IsGap != nil
}

// IsOpen reports whether the record asks for follow-up collection: no
// context, an analysis that flags a gap, or an analysis that could not be
// read.
func IsOpen(rec common.GapRecord) bool {
	switch rec.Status {
	case common.GapNoContext, common.GapUnparsed:
		return true
	}
	a, ok := ParseRecord(rec)
	return !ok || *a.IsGap
}
