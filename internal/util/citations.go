package util

import (
	"regexp"
	"strings"
)

var (
	reCitation = regexp.MustCompile(`\*\*\s*\[\[?([^][\s]+)\]\]?\s*\*\*|\[\[?([^][\s]+)\]\]?`)
	reCited    = regexp.MustCompile(`\[\[([^][]+)\]\]`)
)

// NormalizeCitations rewrites the citation variants models produce for the
// known fragment ids ([id], **[id]**, **[[id]]**) to [[id]] and collapses a
// citation repeated with only whitespace in between. Bracketed text that is
// not a known id is left alone.
func NormalizeCitations(s string, known []string) string {
	if len(known) == 0 || !strings.Contains(s, "[") {
		return s
	}
	ids := make(map[string]struct{}, len(known))
	for _, id := range known {
		ids[id] = struct{}{}
	}

	s = reCitation.ReplaceAllStringFunc(s, func(m string) string {
		sub := reCitation.FindStringSubmatch(m)
		id := sub[1]
		if id == "" {
			id = sub[2]
		}
		if _, ok := ids[id]; !ok {
			return m
		}
		return "[[" + id + "]]"
	})
	return collapseRepeatedCitations(s)
}

func collapseRepeatedCitations(s string) string {
	locs := reCited.FindAllStringSubmatchIndex(s, -1)
	if len(locs) < 2 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	cursor, prevEnd := 0, -1
	prevID := ""
	for _, l := range locs {
		id := s[l[2]:l[3]]
		if id == prevID && strings.TrimSpace(s[prevEnd:l[0]]) == "" {
			cursor, prevEnd = l[1], l[1]
			continue
		}
		b.WriteString(s[cursor:l[1]])
		cursor, prevEnd, prevID = l[1], l[1], id
	}
	b.WriteString(s[cursor:])
	return b.String()
}

// CitedIDs returns the distinct ids cited as [[id]], in order of first
// appearance.
func CitedIDs(s string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range reCited.FindAllStringSubmatch(s, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		out = append(out, m[1])
	}
	return out
}
