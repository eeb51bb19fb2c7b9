package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/OFFIS-RIT/diligence/pkg/ai"
)

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"a.md":         "# Policy\nWe run KYC checks.",
		"sub/b.txt":    "Annual audit by an external firm.",
		"sub/skip.pdf": "%PDF",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	docs, err := readDocuments(dir)
	if err != nil {
		t.Fatalf("readDocuments() error = %v", err)
	}
	var sources []string
	for _, d := range docs {
		sources = append(sources, d.Source)
	}
	if want := []string{"a.md", "sub/b.txt"}; !reflect.DeepEqual(sources, want) {
		t.Fatalf("readDocuments() sources got = %v, want %v", sources, want)
	}
}

func TestParseAnswers(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    map[string]string
		wantErr bool
	}{
		{
			name:  "answers table",
			input: `[{"question_id":"c1","answer_text":"Yes."},{"question_id":"c2","answer_text":"` + ai.NotFoundMarker + `"}]`,
			want:  map[string]string{"c1": "Yes.", "c2": ai.NotFoundMarker},
		},
		{
			name:  "object",
			input: `{"c1":"No."}`,
			want:  map[string]string{"c1": "No."},
		},
		{
			name:    "neither",
			input:   `"just text"`,
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAnswers([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAnswers() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseAnswers() got = %v, want %v", got, tt.want)
			}
		})
	}
}
