package question

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/logger"

	"github.com/go-playground/validator"
	"gopkg.in/yaml.v3"
)

// Format selects the decoder for a question file.
type Format int

const (
	FormatYAML Format = iota
	FormatJSON
)

// InputError describes a question entry that was skipped.
type InputError struct {
	Index      int    `json:"index"`
	QuestionID string `json:"question_id,omitempty"`
	Reason     string `json:"reason"`
}

func (e InputError) Error() string {
	if e.QuestionID != "" {
		return fmt.Sprintf("question %d (%s): %s", e.Index, e.QuestionID, e.Reason)
	}
	return fmt.Sprintf("question %d: %s", e.Index, e.Reason)
}

// scalar accepts string or numeric ids.
type scalar string

func (s *scalar) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch t := v.(type) {
	case string:
		*s = scalar(t)
	case json.Number:
		*s = scalar(t.String())
	case nil:
		*s = ""
	default:
		return fmt.Errorf("id must be a string or number")
	}
	return nil
}

func (s *scalar) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("id must be a scalar")
	}
	*s = scalar(n.Value)
	return nil
}

type rawQuestion struct {
	ID       scalar  `json:"id" yaml:"id"`
	Text     string  `json:"question" yaml:"question"`
	Category string  `json:"category" yaml:"category"`
	Weight   float64 `json:"weight" yaml:"weight"`
}

type bankEntry struct {
	ID   string `validate:"required"`
	Text string `validate:"required"`
}

type criticalEntry struct {
	ID       string  `validate:"required"`
	Text     string  `validate:"required"`
	Category string  `validate:"required,ne=TOTAL"`
	Weight   float64 `validate:"gt=0"`
}

var validate = validator.New()

// FormatFor picks the format from a file extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes a question list. The document is either a list of entries
// or an object with a "questions" list. Entries that cannot be decoded are
// reported and skipped.
func Parse(data []byte, format Format) ([]common.Question, []InputError, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	default:
		return parseYAML(data)
	}
}

func parseJSON(data []byte) ([]common.Question, []InputError, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Questions []json.RawMessage `json:"questions"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return nil, nil, fmt.Errorf("decode questions: %w", err)
		}
		entries = wrapped.Questions
	}

	var out []common.Question
	var errs []InputError
	for i, e := range entries {
		var rq rawQuestion
		if err := json.Unmarshal(e, &rq); err != nil {
			errs = append(errs, InputError{Index: i, Reason: err.Error()})
			continue
		}
		out = append(out, rq.question())
	}
	return out, errs, nil
}

func parseYAML(data []byte) ([]common.Question, []InputError, error) {
	var entries []yaml.Node
	if err := yaml.Unmarshal(data, &entries); err != nil {
		var wrapped struct {
			Questions []yaml.Node `yaml:"questions"`
		}
		if err2 := yaml.Unmarshal(data, &wrapped); err2 != nil {
			return nil, nil, fmt.Errorf("decode questions: %w", err)
		}
		entries = wrapped.Questions
	}

	var out []common.Question
	var errs []InputError
	for i := range entries {
		var rq rawQuestion
		if err := entries[i].Decode(&rq); err != nil {
			errs = append(errs, InputError{Index: i, Reason: err.Error()})
			continue
		}
		out = append(out, rq.question())
	}
	return out, errs, nil
}

func (rq rawQuestion) question() common.Question {
	return common.Question{
		ID:       strings.TrimSpace(string(rq.ID)),
		Text:     strings.TrimSpace(rq.Text),
		Category: strings.TrimSpace(rq.Category),
		Weight:   rq.Weight,
	}
}

// ValidateBank keeps entries with an id and question text, dropping
// repeated ids.
func ValidateBank(qs []common.Question) ([]common.Question, []InputError) {
	return filter(qs, func(q common.Question) error {
		return validate.Struct(bankEntry{ID: q.ID, Text: q.Text})
	})
}

// ValidateCritical additionally requires a category and a positive finite
// weight.
func ValidateCritical(qs []common.Question) ([]common.Question, []InputError) {
	return filter(qs, func(q common.Question) error {
		if math.IsInf(q.Weight, 0) {
			return errors.New("weight must be finite")
		}
		return validate.Struct(criticalEntry{ID: q.ID, Text: q.Text, Category: q.Category, Weight: q.Weight})
	})
}

func filter(qs []common.Question, check func(common.Question) error) ([]common.Question, []InputError) {
	seen := make(map[string]struct{}, len(qs))
	out := make([]common.Question, 0, len(qs))
	var errs []InputError
	for i, q := range qs {
		if err := check(q); err != nil {
			errs = append(errs, InputError{Index: i, QuestionID: q.ID, Reason: describe(err)})
			continue
		}
		if _, dup := seen[q.ID]; dup {
			errs = append(errs, InputError{Index: i, QuestionID: q.ID, Reason: "duplicate id"})
			continue
		}
		seen[q.ID] = struct{}{}
		out = append(out, q)
	}
	return out, errs
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	reasons := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.ToLower(fe.Field())
		if field == "text" {
			field = "question"
		}
		switch fe.Tag() {
		case "required":
			reasons = append(reasons, field+" is required")
		case "gt":
			reasons = append(reasons, field+" must be > "+fe.Param())
		case "ne":
			reasons = append(reasons, field+" must not be "+fe.Param())
		default:
			reasons = append(reasons, field+" failed "+fe.Tag())
		}
	}
	return strings.Join(reasons, ", ")
}

// LoadBank reads and validates a question bank. Skipped entries are
// logged and returned.
func LoadBank(path string) ([]common.Question, []InputError, error) {
	return load(path, ValidateBank)
}

// LoadCritical reads and validates a critical-question definition. An
// unreadable file is an error; invalid entries are skipped.
func LoadCritical(path string) ([]common.Question, []InputError, error) {
	return load(path, ValidateCritical)
}

func load(path string, validateFn func([]common.Question) ([]common.Question, []InputError)) ([]common.Question, []InputError, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read questions %s: %w", path, err)
	}
	return Decode(data, FormatFor(path), validateFn)
}

// Decode parses and validates in one step, logging every skipped entry.
func Decode(data []byte, format Format, validateFn func([]common.Question) ([]common.Question, []InputError)) ([]common.Question, []InputError, error) {
	qs, parseErrs, err := Parse(data, format)
	if err != nil {
		return nil, nil, err
	}
	valid, validationErrs := validateFn(qs)
	errs := append(parseErrs, validationErrs...)
	for _, e := range errs {
		logger.Warn("[Questions] Skipping entry", "err", e)
	}
	return valid, errs, nil
}
