package util

import (
	"reflect"
	"testing"
)

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"fragment text", "Net asset value is reported monthly.", "Net asset value is reported monthly."},
		{"null byte from pdf extraction", "AML\x00 policy", "AML policy"},
		{"invalid utf8", string([]byte{'K', 0xff, 'Y', 'C'}), "KYC"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePostgresText(tt.input); got != tt.want {
				t.Fatalf("SanitizePostgresText() got = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizePostgresTexts(t *testing.T) {
	got := SanitizePostgresTexts([]string{"aml", "\x00", "k\x00yc"})
	if want := []string{"aml", "kyc"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SanitizePostgresTexts() got = %v, want %v", got, want)
	}
	if got := SanitizePostgresTexts(nil); got == nil || len(got) != 0 {
		t.Fatalf("SanitizePostgresTexts(nil) got = %#v, want empty non-nil", got)
	}
}
