package queue

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator"
)

// RunMsg asks a worker to ingest a corpus and answer a question bank.
// Document keys point at already extracted text in the bucket.
type RunMsg struct {
	RunID string `json:"run_id" validate:"required"`
	// Corpus scopes stored fragments; runs over the same corpus reuse them.
	Corpus               string   `json:"corpus" validate:"required"`
	DocumentKeys         []string `json:"document_keys,omitempty"`
	DocumentPrefix       string   `json:"document_prefix,omitempty"`
	URLs                 []string `json:"urls,omitempty" validate:"omitempty,dive,url"`
	QuestionBankKey      string   `json:"question_bank_key,omitempty"`
	CriticalQuestionsKey string   `json:"critical_questions_key" validate:"required"`
	TopK                 int      `json:"top_k,omitempty" validate:"gte=0"`
}

var validate = validator.New()

// DecodeRunMsg parses and validates a run message. Every error wraps
// ErrPermanent.
func DecodeRunMsg(body []byte) (RunMsg, error) {
	var msg RunMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return RunMsg{}, fmt.Errorf("%w: decode run message: %v", ErrPermanent, err)
	}
	if err := validate.Struct(msg); err != nil {
		return RunMsg{}, fmt.Errorf("%w: invalid run message: %v", ErrPermanent, err)
	}
	return msg, nil
}
