package risk

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		raw            string
		want           Classification
		wantRecognized bool
	}{
		{"Positive", Positive, true},
		{"negative", Negative, true},
		{"PARTIAL", Partial, true},
		{"Missing.", Missing, true},
		{"  **Partial**\n", Partial, true},
		{"\"positive\"", Positive, true},
		{"Unclear", Negative, false},
		{"Positive or Partial", Negative, false},
		{"", Negative, false},
	}
	for _, tc := range tests {
		got := ParseClassification(tc.raw)
		if got.Classification != tc.want || got.Recognized != tc.wantRecognized {
			t.Fatalf("ParseClassification(%q) got = %+v, want %s recognized=%v", tc.raw, got, tc.want, tc.wantRecognized)
		}
	}
}

func TestClassification_Risk(t *testing.T) {
	want := map[Classification]float64{Positive: 0, Negative: 1, Partial: 0.5, Missing: 1, "bogus": 1}
	for c, r := range want {
		if got := c.Risk(); got != r {
			t.Fatalf("%s.Risk() got = %v, want %v", c, got, r)
		}
	}
}

func TestAggregate_WeightedCategory(t *testing.T) {
	critical := []common.Question{
		{ID: "1", Category: "A", Weight: 2},
		{ID: "2", Category: "A", Weight: 1},
	}
	got := Aggregate(critical, map[string]Classification{"1": Positive, "2": Negative})
	if got["A"] != 33.33 {
		t.Fatalf("Aggregate() A got = %v, want 33.33", got["A"])
	}
	if got[common.TotalKey] != 33.33 {
		t.Fatalf("Aggregate() TOTAL got = %v, want 33.33", got[common.TotalKey])
	}
}

func TestAggregate_TotalIsGlobalWeightedAverage(t *testing.T) {
	// A: weight 3 with risk sum 1, B: weight 1 with risk sum 1
	critical := []common.Question{
		{ID: "a1", Category: "A", Weight: 2},
		{ID: "a2", Category: "A", Weight: 1},
		{ID: "b1", Category: "B", Weight: 1},
	}
	got := Aggregate(critical, map[string]Classification{"a1": Positive, "a2": Negative, "b1": Missing})

	if got["A"] != 33.33 || got["B"] != 100 {
		t.Fatalf("Aggregate() categories got = %v, want A=33.33 B=100", got)
	}
	if got[common.TotalKey] != 50.0 {
		t.Fatalf("Aggregate() TOTAL got = %v, want 50.0 (not the mean of categories)", got[common.TotalKey])
	}
}

func TestAggregate_MissingAnswerExcluded(t *testing.T) {
	critical := []common.Question{
		{ID: "1", Category: "A", Weight: 1},
		{ID: "2", Category: "A", Weight: 100},
	}
	got := Aggregate(critical, map[string]Classification{"1": Partial})
	if got["A"] != 50 || got[common.TotalKey] != 50 {
		t.Fatalf("Aggregate() got = %v, want A=50 TOTAL=50", got)
	}
}

func TestAggregate_EmptyCategoryIsZero(t *testing.T) {
	critical := []common.Question{
		{ID: "1", Category: "A", Weight: 1},
		{ID: "2", Category: "Governance", Weight: 3},
	}
	got := Aggregate(critical, map[string]Classification{"1": Negative})
	v, ok := got["Governance"]
	if !ok || v != 0.0 || math.IsNaN(v) {
		t.Fatalf("Aggregate() Governance got = %v (present=%v), want 0.0", v, ok)
	}

	none := Aggregate(critical, nil)
	want := map[string]float64{"A": 0, "Governance": 0, common.TotalKey: 0}
	if !reflect.DeepEqual(none, want) {
		t.Fatalf("Aggregate(no answers) got = %v, want %v", none, want)
	}
}

func TestAggregate_IgnoresInvalidAndDuplicates(t *testing.T) {
	critical := []common.Question{
		{ID: "1", Category: "A", Weight: 1},
		{ID: "1", Category: "A", Weight: 9},
		{ID: "2", Category: "A", Weight: 0},
		{ID: "3", Category: "", Weight: 1},
		{ID: "4", Category: "A", Weight: -2},
		{ID: "5", Category: "A", Weight: math.NaN()},
		{ID: "6", Category: common.TotalKey, Weight: 1},
	}
	all := map[string]Classification{"1": Positive, "2": Negative, "3": Negative, "4": Negative, "5": Negative, "6": Negative}
	got := Aggregate(critical, all)
	want := map[string]float64{"A": 0, common.TotalKey: 0}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Aggregate() got = %v, want %v", got, want)
	}
}

func TestAggregate_Rescoring(t *testing.T) {
	critical := []common.Question{
		{ID: "1", Category: "A", Weight: 1.5},
		{ID: "2", Category: "B", Weight: 2.5},
	}
	c := map[string]Classification{"1": Partial, "2": Positive}
	first := Aggregate(critical, c)
	for i := 0; i < 10; i++ {
		if got := Aggregate(critical, c); !reflect.DeepEqual(got, first) {
			t.Fatalf("Aggregate() run %d got = %v, want %v", i, got, first)
		}
	}
}

type fakeClassifier struct {
	mu      sync.Mutex
	byAns   map[string]string
	failAns map[string]bool
	calls   int
}

func (f *fakeClassifier) ClassifyRisk(_ context.Context, _, answer string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAns[answer] {
		return "", errors.New("model unavailable")
	}
	return f.byAns[answer], nil
}

func TestScorer_Score(t *testing.T) {
	critical := []common.Question{
		{ID: "aml", Text: "AML policy?", Category: "Compliance", Weight: 2},
		{ID: "kyc", Text: "KYC?", Category: "Compliance", Weight: 1},
		{ID: "cust", Text: "Custodian?", Category: "Operations", Weight: 1},
		{ID: "audit", Text: "Auditor?", Category: "Operations", Weight: 1},
		{ID: "sanctions", Text: "Sanctions?", Category: "Compliance", Weight: 1},
		{ID: "odd", Text: "Odd?", Category: "Operations", Weight: 1},
	}
	answers := map[string]string{
		"aml":   "Yes, written policy.",
		"kyc":   "NOT_FOUND",
		"cust":  "Partly, self custody for some assets.",
		"audit": "timeout answer",
		"odd":   "odd answer",
	}
	cls := &fakeClassifier{
		byAns: map[string]string{
			"Yes, written policy.":                  "Positive",
			"Partly, self custody for some assets.": "partial",
			"odd answer":                            "It depends",
		},
		failAns: map[string]bool{"timeout answer": true},
	}

	report, err := NewScorer(cls, 3).Score(context.Background(), critical, answers)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}

	// Compliance: aml 0*2 + kyc 1*1 = 1 / 3; Operations: 0.5 + 1 + 1 = 2.5 / 3
	want := map[string]float64{"Compliance": 33.33, "Operations": 83.33, common.TotalKey: 58.33}
	if !reflect.DeepEqual(report.Scores, want) {
		t.Fatalf("Score() scores got = %v, want %v", report.Scores, want)
	}
	if !reflect.DeepEqual(report.Unanswered, []string{"sanctions"}) {
		t.Fatalf("Score() unanswered got = %v, want [sanctions]", report.Unanswered)
	}
	if cls.calls != 4 {
		t.Fatalf("classifier calls got = %d, want 4 (not-found answers skip the model)", cls.calls)
	}

	byID := map[string]QuestionRisk{}
	for _, q := range report.Questions {
		byID[q.QuestionID] = q
	}
	if q := byID["kyc"]; q.Classification != Missing || !q.Degraded {
		t.Fatalf("kyc got = %+v, want degraded Missing", q)
	}
	if q := byID["audit"]; q.Classification != Missing || !q.Degraded {
		t.Fatalf("audit got = %+v, want degraded Missing", q)
	}
	if q := byID["odd"]; q.Classification != Negative || q.Recognized || q.Raw != "It depends" {
		t.Fatalf("odd got = %+v, want unrecognized Negative", q)
	}
	if q := byID["aml"]; q.Classification != Positive || q.Risk != 0 || q.Degraded {
		t.Fatalf("aml got = %+v, want Positive", q)
	}
}

func TestScorer_ScoreCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	critical := []common.Question{{ID: "1", Category: "A", Weight: 1}}
	_, err := NewScorer(&fakeClassifier{}, 1).Score(ctx, critical, map[string]string{"1": "x"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Score() error = %v, want context.Canceled", err)
	}
}
