package fragment

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

func TestID_Deterministic(t *testing.T) {
	a := ID("filing.pdf", 3)
	if a != ID("filing.pdf", 3) {
		t.Fatalf("ID() not deterministic")
	}
	if len(a) != idLength {
		t.Fatalf("ID() length got = %d, want %d", len(a), idLength)
	}
	if a == ID("filing.pdf", 4) || a == ID("filing.pd", 3) {
		t.Fatalf("ID() collides across distinct inputs")
	}
	// the separator keeps "a"+"12" apart from "a1"+"2"
	if ID("a", 12) == ID("a1", 2) {
		t.Fatalf("ID() ambiguous concatenation")
	}
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "multiple sentences",
			text: "The fund is audited. Is it regulated? Yes!",
			want: []string{"The fund is audited.", "Is it regulated?", "Yes!"},
		},
		{
			name: "multi-line sentence",
			text: "The custodian is\na regulated\ntrust company.",
			want: []string{"The custodian is a regulated trust company."},
		},
		{
			name: "numbered list is not a sentence end",
			text: "Steps: 1. verify identity 2. screen sanctions.",
			want: []string{"Steps: 1. verify identity 2. screen sanctions."},
		},
		{
			name: "text with table",
			text: "Fees follow.\nFee | Rate\n--- | ---\nMgmt | 2%\nThat is all.",
			want: []string{
				"Fees follow.",
				"Fee | Rate\n--- | ---\nMgmt | 2%",
				"That is all.",
			},
		},
		{
			name: "table without delimiter",
			text: "A | B\nC | D",
			want: []string{"A | B", "C | D"},
		},
		{
			name: "closing quote stays with sentence",
			text: `He said "no." Then left.`,
			want: []string{`He said "no."`, "Then left."},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := splitIntoSentences(tc.text)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitIntoSentences() got = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestSplitter_Split(t *testing.T) {
	s := NewSplitter(WordCount, 6)
	doc := common.Document{
		Source: "ddq.txt",
		Text:   "The fund has an AML policy. It is reviewed yearly. The auditor is KPMG. A very long sentence that exceeds the budget on its own.",
	}

	got := s.Split(doc)
	wantTexts := []string{
		"The fund has an AML policy.",
		"It is reviewed yearly.",
		"The auditor is KPMG.",
		"A very long sentence that exceeds the budget on its own.",
	}
	if len(got) != len(wantTexts) {
		t.Fatalf("Split() len got = %d, want %d (%v)", len(got), len(wantTexts), got)
	}
	for i, f := range got {
		if f.Text != wantTexts[i] {
			t.Fatalf("Split()[%d].Text got = %q, want %q", i, f.Text, wantTexts[i])
		}
		if f.Position != i || f.Source != "ddq.txt" || f.ID != ID("ddq.txt", i) {
			t.Fatalf("Split()[%d] got = %+v, want position %d and derived id", i, f, i)
		}
	}

	again := s.Split(doc)
	if !reflect.DeepEqual(got, again) {
		t.Fatalf("Split() not deterministic")
	}
}

func TestSplitter_MergesShortSentences(t *testing.T) {
	s := NewSplitter(WordCount, 100)
	got := s.Split(common.Document{Source: "a", Text: "One. Two. Three."})
	if len(got) != 1 || got[0].Text != "One. Two. Three." {
		t.Fatalf("Split() got = %+v, want one merged fragment", got)
	}
	if s.Split(common.Document{Source: "a", Text: "  \n "}) != nil {
		t.Fatalf("Split(blank) want nil")
	}
}

func TestMemoryStore_PutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	f1 := common.Fragment{ID: ID("b", 0), Source: "b", Position: 0, Text: "first"}
	f2 := common.Fragment{ID: ID("a", 1), Source: "a", Position: 1, Text: "second"}
	f3 := common.Fragment{ID: ID("a", 0), Source: "a", Position: 0, Text: "third"}

	added, err := s.Put(ctx, f1, f2, f3)
	if err != nil || added != 3 {
		t.Fatalf("Put() got = %d, %v, want 3, nil", added, err)
	}

	changed := f1
	changed.Text = "rewritten"
	added, err = s.Put(ctx, changed, f2)
	if err != nil || added != 0 {
		t.Fatalf("Put() re-ingest got = %d, %v, want 0, nil", added, err)
	}
	if s.Len() != 3 {
		t.Fatalf("Len() got = %d, want 3", s.Len())
	}

	got, ok, _ := s.Get(ctx, f1.ID)
	if !ok || got.Text != "first" {
		t.Fatalf("Get() got = %+v, want original text", got)
	}

	all, _ := s.All(ctx)
	var order []string
	for _, f := range all {
		order = append(order, f.Text)
	}
	if want := "third,second,first"; strings.Join(order, ",") != want {
		t.Fatalf("All() order got = %v, want %s", order, want)
	}
}
