package pipeline

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/assess"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/risk"

	"golang.org/x/sync/errgroup"
)

type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) (common.RetrievalResult, error)
}

type Answerer interface {
	Answer(ctx context.Context, question string, retrieval common.RetrievalResult) (string, error)
}

type GapDetector interface {
	Detect(ctx context.Context, question common.Question, retrieval common.RetrievalResult, answer common.AnswerRecord) common.GapRecord
}

type RiskClassifier interface {
	Classify(ctx context.Context, q common.Question, answer string) risk.QuestionRisk
}

// Runner answers a question bank against a frozen index. Every question is
// an independent unit: retrieve, answer, then gap detection and risk
// classification side by side.
type Runner struct {
	retriever Retriever
	answerer  Answerer
	gaps      GapDetector
	risks     RiskClassifier
	parallel  int
	topK      int
}

type NewRunnerParams struct {
	Retriever Retriever
	Answerer  Answerer
	Gaps      GapDetector
	Risks     RiskClassifier
	Parallel  int
	TopK      int
}

func NewRunner(params NewRunnerParams) *Runner {
	if params.Parallel <= 0 {
		params.Parallel = 4
	}
	return &Runner{
		retriever: params.Retriever,
		answerer:  params.Answerer,
		gaps:      params.Gaps,
		risks:     params.Risks,
		parallel:  params.Parallel,
		topK:      params.TopK,
	}
}

// Result holds the records of every completed question in bank order.
type Result struct {
	Answers []common.AnswerRecord
	Gaps    []common.GapRecord
	Report  risk.Report
	// Partial is set when the run was cancelled before every question
	// completed.
	Partial bool
}

type unit struct {
	question common.Question
	critical *common.Question
}

type outcome struct {
	done   bool
	answer common.AnswerRecord
	gap    common.GapRecord
	risk   *risk.QuestionRisk
}

// Run processes bank and every critical question missing from it. Critical
// questions are classified with their own definition. On cancellation the
// completed records are returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context, bank, critical []common.Question) (Result, error) {
	start := time.Now()
	units := plan(bank, critical)
	outcomes := make([]outcome, len(units))

	var eg errgroup.Group
	eg.SetLimit(r.parallel)
	for i, u := range units {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o := r.process(ctx, u)
			if ctx.Err() != nil {
				return nil
			}
			outcomes[i] = o
			return nil
		})
	}
	_ = eg.Wait()

	res := Result{
		Answers: make([]common.AnswerRecord, 0, len(units)),
		Gaps:    make([]common.GapRecord, 0, len(units)),
	}
	var risks []risk.QuestionRisk
	var unanswered []string
	for i, o := range outcomes {
		if !o.done {
			res.Partial = true
			if units[i].critical != nil {
				unanswered = append(unanswered, units[i].critical.ID)
			}
			continue
		}
		res.Answers = append(res.Answers, o.answer)
		res.Gaps = append(res.Gaps, o.gap)
		if o.risk != nil {
			risks = append(risks, *o.risk)
		}
	}
	res.Report = risk.NewReport(critical, risks)
	if len(unanswered) > 0 {
		res.Report.Unanswered = unanswered
	}

	logger.Info(
		"[Pipeline] Run finished",
		"questions", len(units),
		"answered", len(res.Answers),
		"partial", res.Partial,
		"duration", time.Since(start).String(),
	)
	if res.Partial {
		return res, ctx.Err()
	}
	return res, nil
}

// plan orders the units: the bank first, then critical questions that
// the bank does not ask. Repeated ids run once.
func plan(bank, critical []common.Question) []unit {
	crit := make(map[string]*common.Question, len(critical))
	for i := range critical {
		q := &critical[i]
		if !risk.Valid(*q) {
			continue
		}
		if _, ok := crit[q.ID]; !ok {
			crit[q.ID] = q
		}
	}

	seen := make(map[string]struct{}, len(bank)+len(crit))
	units := make([]unit, 0, len(bank)+len(crit))
	add := func(q common.Question) {
		if _, ok := seen[q.ID]; ok {
			return
		}
		seen[q.ID] = struct{}{}
		units = append(units, unit{question: q, critical: crit[q.ID]})
	}
	for _, q := range bank {
		add(q)
	}
	for _, q := range critical {
		if _, ok := crit[q.ID]; ok {
			add(q)
		}
	}
	return units
}

func (r *Runner) process(ctx context.Context, u unit) outcome {
	q := u.question
	retrieval, err := r.retriever.Retrieve(ctx, q.Text, r.topK)
	if err != nil {
		return outcome{}
	}

	answer := r.answer(ctx, q, retrieval)

	o := outcome{done: true, answer: answer}
	var eg errgroup.Group
	eg.Go(func() error {
		o.gap = r.gaps.Detect(ctx, q, retrieval, answer)
		return nil
	})
	if u.critical != nil {
		eg.Go(func() error {
			qr := r.risks.Classify(ctx, *u.critical, answer.AnswerText)
			o.risk = &qr
			return nil
		})
	}
	_ = eg.Wait()

	logger.Debug("[Pipeline] Question processed", "question_id", q.ID, "status", answer.Status, "gap", o.gap.Status)
	return o
}

func (r *Runner) answer(ctx context.Context, q common.Question, retrieval common.RetrievalResult) common.AnswerRecord {
	rec := common.AnswerRecord{
		QuestionID:   q.ID,
		QuestionText: q.Text,
		AnswerText:   ai.NotFoundMarker,
		Status:       common.AnswerNotFound,
	}
	if retrieval.Empty() {
		return rec
	}

	text, err := r.answerer.Answer(ctx, q.Text, retrieval)
	if err != nil {
		logger.Warn("[Pipeline] Answer unavailable", "question_id", q.ID, "err", err)
		return rec
	}
	if assess.IsNotFound(text) {
		return rec
	}
	rec.AnswerText = text
	rec.Status = common.AnswerFound
	return rec
}
