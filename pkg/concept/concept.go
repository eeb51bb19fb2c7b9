package concept

import (
	"context"
	"errors"
	"slices"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/diligence/pkg/logger"
)

// Extractor returns the concept set of a text. Implementations should
// return the same set for the same text.
type Extractor interface {
	Extract(ctx context.Context, text string) ([]string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, text string) ([]string, error)

func (f ExtractorFunc) Extract(ctx context.Context, text string) ([]string, error) {
	return f(ctx, text)
}

// Normalize lowercases, collapses whitespace, trims surrounding punctuation,
// drops empties and duplicates and returns the concepts sorted.
func Normalize(concepts []string) []string {
	seen := make(map[string]struct{}, len(concepts))
	out := make([]string, 0, len(concepts))
	for _, c := range concepts {
		n := normalizeOne(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func normalizeOne(c string) string {
	c = strings.ToLower(strings.Join(strings.Fields(c), " "))
	return strings.TrimFunc(c, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
}

// ExtractOrEmpty runs e and degrades any failure to an empty set.
func ExtractOrEmpty(ctx context.Context, e Extractor, text string) []string {
	if e == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	concepts, err := e.Extract(ctx, text)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Warn("[Concept] Extraction failed, using empty set", "err", err)
		}
		return nil
	}
	return Normalize(concepts)
}

// Composite unions the output of several extractors. It only fails when
// every extractor fails.
type Composite []Extractor

func (c Composite) Extract(ctx context.Context, text string) ([]string, error) {
	var (
		all  []string
		errs []error
	)
	for _, e := range c {
		concepts, err := e.Extract(ctx, text)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		all = append(all, concepts...)
	}
	if len(errs) > 0 && len(errs) == len(c) {
		return nil, errors.Join(errs...)
	}
	return Normalize(all), nil
}
