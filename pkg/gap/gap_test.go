package gap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

type fakeModel struct {
	out   string
	err   error
	calls int
}

func (f *fakeModel) DetectGap(context.Context, string, string, string) (string, error) {
	f.calls++
	return f.out, f.err
}

var (
	question  = common.Question{ID: "q1", Text: "Does the fund have an AML policy?"}
	answer    = common.AnswerRecord{QuestionID: "q1", AnswerText: "Yes [[f1]]", Status: common.AnswerFound}
	retrieved = common.RetrievalResult{Fragments: []common.RetrievedFragment{{FragmentID: "f1", Text: "AML policy exists."}}}
)

func TestDetect_NoContextSkipsModel(t *testing.T) {
	m := &fakeModel{out: `{"is_gap": false}`}
	rec := NewDetector(m).Detect(context.Background(), question, common.RetrievalResult{}, common.AnswerRecord{Status: common.AnswerNotFound})
	if rec.Status != common.GapNoContext || rec.QuestionID != "q1" {
		t.Fatalf("Detect() got = %+v, want NoContext for q1", rec)
	}
	if m.calls != 0 {
		t.Fatalf("model calls got = %d, want 0", m.calls)
	}
	if !IsOpen(rec) {
		t.Fatalf("IsOpen(NoContext) got = false, want true")
	}
}

func TestDetect_States(t *testing.T) {
	tests := []struct {
		name       string
		out        string
		err        error
		wantStatus common.GapStatus
		wantDetail string
		wantOpen   bool
	}{
		{
			name:       "structured gap",
			out:        "```json\n{\"is_gap\": true, \"missing_information\": [\"policy date\"], \"reason\": \"undated\"}\n```",
			wantStatus: common.GapParsed,
			wantDetail: `{"is_gap":true,"missing_information":["policy date"],"follow_up_questions":[],"reason":"undated"}`,
			wantOpen:   true,
		},
		{
			name:       "structured no gap",
			out:        `{is_gap: false, reason: 'supported',}`,
			wantStatus: common.GapParsed,
			wantDetail: `{"is_gap":false,"missing_information":[],"follow_up_questions":[],"reason":"supported"}`,
			wantOpen:   false,
		},
		{
			name:       "prose",
			out:        "The answer looks fine to me",
			wantStatus: common.GapUnparsed,
			wantDetail: "The answer looks fine to me",
			wantOpen:   true,
		},
		{
			name:       "json without verdict",
			out:        `{"reason": "unclear"}`,
			wantStatus: common.GapUnparsed,
			wantDetail: `{"reason": "unclear"}`,
			wantOpen:   true,
		},
		{
			name:       "model failure",
			err:        errors.New("timeout"),
			wantStatus: common.GapUnparsed,
			wantDetail: "gap analysis failed: timeout",
			wantOpen:   true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := &fakeModel{out: tc.out, err: tc.err}
			rec := NewDetector(m).Detect(context.Background(), question, retrieved, answer)
			if rec.Status != tc.wantStatus {
				t.Fatalf("Detect() status got = %s, want %s", rec.Status, tc.wantStatus)
			}
			if rec.Detail != tc.wantDetail {
				t.Fatalf("Detect() detail got = %s, want %s", rec.Detail, tc.wantDetail)
			}
			if IsOpen(rec) != tc.wantOpen {
				t.Fatalf("IsOpen() got = %v, want %v", IsOpen(rec), tc.wantOpen)
			}
			if m.calls != 1 {
				t.Fatalf("model calls got = %d, want 1", m.calls)
			}
		})
	}
}

func TestParseRecord(t *testing.T) {
	rec := common.GapRecord{Status: common.GapParsed, Detail: `{"is_gap":true,"follow_up_questions":["Who approved it?"]}`}
	a, ok := ParseRecord(rec)
	if !ok || !*a.IsGap || len(a.FollowUpQuestions) != 1 || !strings.HasPrefix(a.FollowUpQuestions[0], "Who") {
		t.Fatalf("ParseRecord() got = %+v, %v", a, ok)
	}
	if _, ok := ParseRecord(common.GapRecord{Status: common.GapUnparsed, Detail: rec.Detail}); ok {
		t.Fatalf("ParseRecord(UnparsedGap) got ok, want false")
	}
}
