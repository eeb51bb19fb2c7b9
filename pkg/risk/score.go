package risk

import (
	"context"

	"github.com/OFFIS-RIT/diligence/pkg/assess"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Classifier labels an answer with a raw risk classification.
type Classifier interface {
	ClassifyRisk(ctx context.Context, question, answer string) (string, error)
}

// QuestionRisk is the classification of one critical question's answer.
type QuestionRisk struct {
	QuestionID     string         `json:"question_id"`
	Category       string         `json:"category"`
	Weight         float64        `json:"weight"`
	Classification Classification `json:"classification"`
	Risk           float64        `json:"risk"`
	Recognized     bool           `json:"recognized"`
	// Degraded is set when the classification is Missing because the
	// answer was not found or the model was unavailable.
	Degraded bool   `json:"degraded,omitempty"`
	Raw      string `json:"raw,omitempty"`
}

// Report is the result of scoring one set of answers.
type Report struct {
	Scores     map[string]float64 `json:"scores"`
	Questions  []QuestionRisk     `json:"questions"`
	Unanswered []string           `json:"unanswered"`
}

// Scorer classifies answers and aggregates them. It holds no state between
// calls.
type Scorer struct {
	classifier Classifier
	parallel   int
}

func NewScorer(classifier Classifier, parallel int) *Scorer {
	if parallel <= 0 {
		parallel = 1
	}
	return &Scorer{classifier: classifier, parallel: parallel}
}

// Classify labels one answer. A not-found answer is Missing without a model
// call; a model failure degrades to Missing as well.
func (s *Scorer) Classify(ctx context.Context, q common.Question, answer string) QuestionRisk {
	qr := QuestionRisk{QuestionID: q.ID, Category: q.Category, Weight: q.Weight}

	if assess.IsNotFound(answer) {
		qr.Classification, qr.Recognized, qr.Degraded = Missing, true, true
		qr.Risk = Missing.Risk()
		return qr
	}

	raw, err := s.classifier.ClassifyRisk(ctx, q.Text, answer)
	if err != nil {
		logger.Warn("[Risk] Classification unavailable, using Missing", "question_id", q.ID, "err", err)
		qr.Classification, qr.Recognized, qr.Degraded = Missing, true, true
		qr.Risk = Missing.Risk()
		return qr
	}

	p := ParseClassification(raw)
	if !p.Recognized {
		logger.Warn("[Risk] Unrecognized classification, using Negative", "question_id", q.ID, "raw", raw)
	}
	qr.Classification = p.Classification
	qr.Recognized = p.Recognized
	qr.Risk = p.Classification.Risk()
	qr.Raw = raw
	return qr
}

// Score classifies every valid critical question that has an answer and
// aggregates the result. The only error is the context's.
func (s *Scorer) Score(ctx context.Context, critical []common.Question, answers map[string]string) (Report, error) {
	var todo []common.Question
	var unanswered []string
	seen := make(map[string]struct{}, len(critical))
	for _, q := range critical {
		if !Valid(q) {
			continue
		}
		if _, dup := seen[q.ID]; dup {
			continue
		}
		seen[q.ID] = struct{}{}
		if _, ok := answers[q.ID]; !ok {
			unanswered = append(unanswered, q.ID)
			continue
		}
		todo = append(todo, q)
	}

	risks := make([]QuestionRisk, len(todo))
	eg, gCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.parallel)
	for i, q := range todo {
		eg.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			risks[i] = s.Classify(gCtx, q, answers[q.ID])
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := NewReport(critical, risks)
	if len(unanswered) > 0 {
		report.Unanswered = unanswered
	}
	return report, nil
}

// NewReport aggregates already classified questions.
func NewReport(critical []common.Question, risks []QuestionRisk) Report {
	classifications := make(map[string]Classification, len(risks))
	for _, r := range risks {
		classifications[r.QuestionID] = r.Classification
	}
	if risks == nil {
		risks = []QuestionRisk{}
	}
	return Report{
		Scores:     Aggregate(critical, classifications),
		Questions:  risks,
		Unanswered: []string{},
	}
}
