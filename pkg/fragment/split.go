package fragment

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/OFFIS-RIT/diligence/pkg/common"
)

const DefaultMaxTokens = 300

var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// Splitter cuts extracted document text into fragments of at most
// MaxTokens tokens. Sentences and markdown tables are never split; a single
// sentence longer than MaxTokens becomes its own fragment.
type Splitter struct {
	Count     TokenCounter
	MaxTokens int
}

func NewSplitter(count TokenCounter, maxTokens int) *Splitter {
	if count == nil {
		count = WordCount
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Splitter{Count: count, MaxTokens: maxTokens}
}

// Split returns the fragments of doc in order. Position is the fragment's
// index within the document, so re-splitting unchanged text reproduces the
// same ids.
func (s *Splitter) Split(doc common.Document) []common.Fragment {
	sentences := splitIntoSentences(strings.TrimSpace(doc.Text))
	if len(sentences) == 0 {
		return nil
	}

	var fragments []common.Fragment
	chunkStart := -1
	chunkEnd := -1

	flush := func() {
		if chunkStart < 0 || chunkEnd <= chunkStart {
			return
		}
		pos := len(fragments)
		fragments = append(fragments, common.Fragment{
			ID:       ID(doc.Source, pos),
			Source:   doc.Source,
			Position: pos,
			Text:     strings.Join(sentences[chunkStart:chunkEnd], " "),
		})
		chunkStart = -1
		chunkEnd = -1
	}

	for i := range sentences {
		if chunkStart < 0 {
			chunkStart = i
			chunkEnd = i + 1
			continue
		}

		candidate := strings.Join(sentences[chunkStart:i+1], " ")
		if s.Count(candidate) <= s.MaxTokens {
			chunkEnd = i + 1
			continue
		}
		flush()
		chunkStart = i
		chunkEnd = i + 1
	}
	flush()

	return fragments
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed != "" && strings.Contains(trimmed, "|")
}

func endsSentence(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), "\"')]}")
	return strings.HasSuffix(s, ".") || strings.HasSuffix(s, "!") || strings.HasSuffix(s, "?")
}

func splitIntoSentences(text string) []string {
	lines := strings.Split(text, "\n")
	var sentences []string
	var current strings.Builder

	emit := func() {
		if current.Len() > 0 {
			sentences = append(sentences, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}
	appendProse := func(line string) {
		for _, sentence := range splitLineIntoSentences(line) {
			if current.Len() > 0 {
				current.WriteString(" ")
			}
			current.WriteString(sentence)
			if endsSentence(sentence) {
				emit()
			}
		}
	}

	inTable := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if inTable {
			if isTableRow(line) {
				current.WriteString("\n")
				current.WriteString(line)
				continue
			}
			inTable = false
			emit()
		}

		switch {
		case isTableRow(line) && i+1 < len(lines) && tableDelimRe.MatchString(strings.TrimSpace(lines[i+1])):
			emit()
			inTable = true
			current.WriteString(line)
		case isTableRow(line):
			emit()
			sentences = append(sentences, trimmed)
		case trimmed == "":
			emit()
		default:
			appendProse(trimmed)
		}
	}
	emit()

	var result []string
	for _, sentence := range sentences {
		if strings.TrimSpace(sentence) != "" {
			result = append(result, sentence)
		}
	}
	return result
}

func splitLineIntoSentences(line string) []string {
	var sentences []string
	var current strings.Builder

	for i := 0; i < len(line); i++ {
		current.WriteByte(line[i])

		if line[i] != '.' && line[i] != '!' && line[i] != '?' {
			continue
		}
		// "1. item" style numbering
		if i > 0 && unicode.IsDigit(rune(line[i-1])) && i+1 < len(line) && line[i+1] == ' ' {
			continue
		}

		j := i + 1
		for j < len(line) && (line[j] == '.' || line[j] == '!' || line[j] == '?') {
			current.WriteByte(line[j])
			j++
		}
		for j < len(line) && strings.IndexByte("\"')]}", line[j]) >= 0 {
			current.WriteByte(line[j])
			j++
		}

		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}
	return sentences
}
