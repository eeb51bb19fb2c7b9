package concept

import (
	"context"
	"regexp"
	"strings"
)

// KeywordExtractor matches a configured concept set against text on word
// boundaries. It is also the relevance flag for whole documents: a document
// is relevant when any configured concept occurs in it.
type KeywordExtractor struct {
	keywords []string
	patterns []*regexp.Regexp
}

func NewKeywordExtractor(keywords []string) *KeywordExtractor {
	kws := Normalize(keywords)
	patterns := make([]*regexp.Regexp, len(kws))
	for i, kw := range kws {
		parts := strings.Fields(kw)
		for j := range parts {
			parts[j] = regexp.QuoteMeta(parts[j])
		}
		patterns[i] = regexp.MustCompile(`(?i)(?:^|[^\pL\pN])` + strings.Join(parts, `\s+`) + `(?:$|[^\pL\pN])`)
	}
	return &KeywordExtractor{keywords: kws, patterns: patterns}
}

// Keywords returns the normalized configured set.
func (e *KeywordExtractor) Keywords() []string {
	return append([]string(nil), e.keywords...)
}

func (e *KeywordExtractor) Extract(_ context.Context, text string) ([]string, error) {
	return e.Match(text), nil
}

// Match returns the configured concepts occurring in text, sorted.
func (e *KeywordExtractor) Match(text string) []string {
	var out []string
	for i, p := range e.patterns {
		if p.MatchString(text) {
			out = append(out, e.keywords[i])
		}
	}
	return out
}

// Relevant reports whether any configured concept occurs in text.
func (e *KeywordExtractor) Relevant(text string) bool {
	for _, p := range e.patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
