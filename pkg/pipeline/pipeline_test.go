package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/gap"
	"github.com/OFFIS-RIT/diligence/pkg/risk"
)

type fakeRetriever struct {
	empty map[string]bool
}

func (f *fakeRetriever) Retrieve(ctx context.Context, question string, _ int) (common.RetrievalResult, error) {
	res := common.RetrievalResult{Question: question, Fragments: []common.RetrievedFragment{}}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if f.empty[question] {
		return res, nil
	}
	res.Fragments = append(res.Fragments, common.RetrievedFragment{FragmentID: "f1", Text: "policy text", Score: 1})
	return res, nil
}

type fakeAnswerer struct {
	mu      sync.Mutex
	calls   []string
	answers map[string]string
	errs    map[string]error
	hook    func(question string)
}

func (f *fakeAnswerer) Answer(_ context.Context, question string, _ common.RetrievalResult) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, question)
	f.mu.Unlock()
	if f.hook != nil {
		f.hook(question)
	}
	if err := f.errs[question]; err != nil {
		return "", err
	}
	return f.answers[question], nil
}

type fakeGapModel struct {
	calls atomic.Int32
}

func (f *fakeGapModel) DetectGap(context.Context, string, string, string) (string, error) {
	f.calls.Add(1)
	return `{"is_gap": false, "missing_information": [], "follow_up_questions": [], "reason": "covered"}`, nil
}

type fakeClassifier struct {
	calls atomic.Int32
	label string
}

func (f *fakeClassifier) ClassifyRisk(context.Context, string, string) (string, error) {
	f.calls.Add(1)
	return f.label, nil
}

func newRunner(ret Retriever, ans Answerer, gm gap.Model, cls risk.Classifier, parallel int) *Runner {
	return NewRunner(NewRunnerParams{
		Retriever: ret,
		Answerer:  ans,
		Gaps:      gap.NewDetector(gm),
		Risks:     risk.NewScorer(cls, 1),
		Parallel:  parallel,
	})
}

func TestRunEmptyStore(t *testing.T) {
	bank := []common.Question{{ID: "q1", Text: "Does the fund have an AML policy?"}}
	ret := &fakeRetriever{empty: map[string]bool{bank[0].Text: true}}
	ans := &fakeAnswerer{}
	gm := &fakeGapModel{}

	res, err := newRunner(ret, ans, gm, &fakeClassifier{label: "Positive"}, 2).Run(context.Background(), bank, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Answers) != 1 || res.Answers[0].Status != common.AnswerNotFound {
		t.Fatalf("Run() answers got = %+v, want one NotFound", res.Answers)
	}
	if len(res.Gaps) != 1 || res.Gaps[0].Status != common.GapNoContext {
		t.Fatalf("Run() gaps got = %+v, want one NoContext", res.Gaps)
	}
	if len(ans.calls) != 0 || gm.calls.Load() != 0 {
		t.Fatalf("Run() model calls got = %d/%d, want 0/0", len(ans.calls), gm.calls.Load())
	}
	if res.Partial {
		t.Fatalf("Run() partial got = true, want false")
	}
}

func TestRunScoresCriticalQuestions(t *testing.T) {
	bank := []common.Question{
		{ID: "q1", Text: "Who is the auditor?"},
		{ID: "q2", Text: "Is there a DPO?"},
		{ID: "q1", Text: "repeated"},
	}
	critical := []common.Question{
		{ID: "q2", Text: "Is there a DPO?", Category: "Compliance", Weight: 1},
		{ID: "c3", Text: "Are backups tested?", Category: "Operations", Weight: 2},
		{ID: "bad", Text: "zero weight", Category: "Operations", Weight: 0},
	}
	ans := &fakeAnswerer{answers: map[string]string{
		"Who is the auditor?": "KPMG",
		"Is there a DPO?":     "Yes, appointed in 2021.",
		"Are backups tested?": "NOT_FOUND",
	}}
	gm := &fakeGapModel{}
	cls := &fakeClassifier{label: "Positive"}

	res, err := newRunner(&fakeRetriever{}, ans, gm, cls, 3).Run(context.Background(), bank, critical)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var gotIDs []string
	for _, a := range res.Answers {
		gotIDs = append(gotIDs, a.QuestionID)
	}
	if want := []string{"q1", "q2", "c3"}; !reflect.DeepEqual(gotIDs, want) {
		t.Fatalf("Run() answer order got = %v, want %v", gotIDs, want)
	}
	if res.Answers[2].Status != common.AnswerNotFound {
		t.Fatalf("Run() c3 status got = %v, want %v", res.Answers[2].Status, common.AnswerNotFound)
	}
	for _, g := range res.Gaps {
		if g.Status != common.GapParsed {
			t.Fatalf("Run() gap %s got = %v, want %v", g.QuestionID, g.Status, common.GapParsed)
		}
	}
	if got := cls.calls.Load(); got != 1 {
		t.Fatalf("Run() classifier calls got = %d, want 1", got)
	}

	want := map[string]float64{"Compliance": 0, "Operations": 100, common.TotalKey: 66.67}
	if !reflect.DeepEqual(res.Report.Scores, want) {
		t.Fatalf("Run() scores got = %v, want %v", res.Report.Scores, want)
	}
	if len(res.Report.Questions) != 2 || !res.Report.Questions[1].Degraded {
		t.Fatalf("Run() risks got = %+v", res.Report.Questions)
	}
}

func TestRunAnswerFailureDegrades(t *testing.T) {
	bank := []common.Question{{ID: "q1", Text: "Q?"}}
	ans := &fakeAnswerer{errs: map[string]error{"Q?": errors.New("rate limited")}}

	res, err := newRunner(&fakeRetriever{}, ans, &fakeGapModel{}, &fakeClassifier{}, 1).Run(context.Background(), bank, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Answers[0].Status != common.AnswerNotFound {
		t.Fatalf("Run() status got = %v, want %v", res.Answers[0].Status, common.AnswerNotFound)
	}
	if res.Gaps[0].Status != common.GapParsed {
		t.Fatalf("Run() gap got = %v, want %v", res.Gaps[0].Status, common.GapParsed)
	}
}

func TestRunCancelKeepsCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bank := []common.Question{
		{ID: "q1", Text: "one"},
		{ID: "q2", Text: "two"},
		{ID: "q3", Text: "three"},
	}
	critical := []common.Question{{ID: "q3", Text: "three", Category: "Ops", Weight: 1}}
	ans := &fakeAnswerer{
		answers: map[string]string{"one": "1", "two": "2", "three": "3"},
		hook: func(q string) {
			if q == "two" {
				cancel()
			}
		},
	}

	res, err := newRunner(&fakeRetriever{}, ans, &fakeGapModel{}, &fakeClassifier{label: "Positive"}, 1).Run(ctx, bank, critical)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error got = %v, want %v", err, context.Canceled)
	}
	if !res.Partial {
		t.Fatalf("Run() partial got = false, want true")
	}
	if len(res.Answers) != 1 || res.Answers[0].QuestionID != "q1" {
		t.Fatalf("Run() answers got = %+v, want only q1", res.Answers)
	}
	if want := []string{"q3"}; !reflect.DeepEqual(res.Report.Unanswered, want) {
		t.Fatalf("Run() unanswered got = %v, want %v", res.Report.Unanswered, want)
	}
	if got := res.Report.Scores[common.TotalKey]; got != 0 {
		t.Fatalf("Run() total got = %v, want 0", got)
	}
}

func TestWriteDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	res := Result{
		Answers: []common.AnswerRecord{{QuestionID: "q1", Status: common.AnswerFound}},
		Gaps:    []common.GapRecord{{QuestionID: "q1", Status: common.GapParsed}},
		Report:  risk.NewReport(nil, nil),
	}
	if err := WriteDir(dir, res); err != nil {
		t.Fatalf("WriteDir() error = %v", err)
	}
	for _, name := range OutputNames {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("WriteDir() missing %s: %v", name, err)
		}
	}
}

func TestFilesFollowUp(t *testing.T) {
	res := Result{
		Gaps: []common.GapRecord{
			{QuestionID: "q1", Status: common.GapNoContext},
			{QuestionID: "q2", Status: common.GapParsed, Detail: `{"is_gap":false}`},
			{QuestionID: "q3", Status: common.GapParsed, Detail: `{"is_gap":true,"missing_information":["owner"]}`},
			{QuestionID: "q4", Status: common.GapUnparsed, Detail: "not json"},
		},
		Report: risk.NewReport(nil, nil),
	}
	files, err := res.Files()
	if err != nil {
		t.Fatalf("Files() error = %v", err)
	}
	var out struct {
		FollowUp []string `json:"follow_up"`
	}
	if err := json.Unmarshal(files[RisksFile], &out); err != nil {
		t.Fatalf("Files() risks.json error = %v", err)
	}
	if want := []string{"q1", "q3", "q4"}; !reflect.DeepEqual(out.FollowUp, want) {
		t.Fatalf("Files() follow_up got = %v, want %v", out.FollowUp, want)
	}
}
