package assess

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
	"github.com/OFFIS-RIT/diligence/pkg/common"
)

type scriptedAI struct {
	replies []string
	errs    []error
	prompts []string
}

func (s *scriptedAI) GenerateCompletion(_ context.Context, prompt string, _ ...ai.GenerateOption) (string, error) {
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.replies) {
		return s.replies[i], nil
	}
	return "", nil
}

func (s *scriptedAI) GenerateCompletionWithFormat(context.Context, string, string, string, any, ...ai.GenerateOption) error {
	return nil
}

func (s *scriptedAI) GenerateEmbedding(context.Context, []byte) ([]float32, error) { return nil, nil }

func (s *scriptedAI) GenerateEmbeddings(context.Context, [][]byte) ([][]float32, error) {
	return nil, nil
}

func (s *scriptedAI) ResetMetrics() {}

func (s *scriptedAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func newTestService(client ai.Client) *Service {
	return NewService(NewServiceParams{Client: client, MaxTries: 3, BaseDelay: time.Millisecond})
}

func TestAnswer_PromptCarriesContext(t *testing.T) {
	client := &scriptedAI{replies: []string{"  Yes, see [[f1]].  "}}
	s := newTestService(client)

	retrieval := common.RetrievalResult{Fragments: []common.RetrievedFragment{
		{FragmentID: "f1", Source: "ddq.pdf", Text: "The fund has an AML policy."},
	}}
	got, err := s.Answer(context.Background(), "Does the fund have an AML policy?", retrieval)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got != "Yes, see [[f1]]." {
		t.Fatalf("Answer() got = %q", got)
	}
	p := client.prompts[0]
	for _, want := range []string{"[[f1]] (ddq.pdf)", "The fund has an AML policy.", "Does the fund have an AML policy?", ai.NotFoundMarker} {
		if !strings.Contains(p, want) {
			t.Fatalf("Answer() prompt missing %q", want)
		}
	}
}

func TestClassifyRisk_RetriesRateLimit(t *testing.T) {
	client := &scriptedAI{
		errs:    []error{ai.ErrRateLimited, ai.ErrRateLimited},
		replies: []string{"", "", "Partial\n"},
	}
	got, err := newTestService(client).ClassifyRisk(context.Background(), "q", "a")
	if err != nil {
		t.Fatalf("ClassifyRisk() error = %v", err)
	}
	if got != "Partial" || len(client.prompts) != 3 {
		t.Fatalf("ClassifyRisk() got = %q after %d calls, want Partial after 3", got, len(client.prompts))
	}
}

func TestDetectGap_ExhaustedRetries(t *testing.T) {
	client := &scriptedAI{errs: []error{ai.ErrRateLimited, ai.ErrRateLimited, ai.ErrRateLimited, nil}}
	_, err := newTestService(client).DetectGap(context.Background(), "q", "ctx", "a")
	if !errors.Is(err, ai.ErrRateLimited) {
		t.Fatalf("DetectGap() error = %v, want ErrRateLimited", err)
	}
	if len(client.prompts) != 3 {
		t.Fatalf("DetectGap() calls got = %d, want 3", len(client.prompts))
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"NOT_FOUND", true},
		{" not_found. ", true},
		{"`NOT_FOUND`", true},
		{"", true},
		{"Yes, the fund has an AML policy.", false},
		{"NOT_FOUND in excerpt 2 but yes in 3", false},
	}
	for _, tc := range tests {
		if got := IsNotFound(tc.in); got != tc.want {
			t.Fatalf("IsNotFound(%q) got = %v, want %v", tc.in, got, tc.want)
		}
	}
}
