package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/gap"
	"github.com/OFFIS-RIT/diligence/pkg/risk"
)

const (
	AnswersFile = "answers.json"
	GapsFile    = "gaps.json"
	ScoresFile  = "scores.json"
	RisksFile   = "risks.json"
)

// OutputNames lists the files a run produces.
var OutputNames = []string{AnswersFile, GapsFile, ScoresFile, RisksFile}

type risksOutput struct {
	Questions  []risk.QuestionRisk `json:"questions"`
	Unanswered []string            `json:"unanswered"`
	FollowUp   []string            `json:"follow_up"`
	Partial    bool                `json:"partial"`
}

// followUp lists the questions whose gap record is still open.
func followUp(gaps []common.GapRecord) []string {
	ids := []string{}
	for _, rec := range gaps {
		if gap.IsOpen(rec) {
			ids = append(ids, rec.QuestionID)
		}
	}
	return ids
}

// Files renders the run outputs keyed by file name.
func (r Result) Files() (map[string][]byte, error) {
	values := map[string]any{
		AnswersFile: r.Answers,
		GapsFile:    r.Gaps,
		ScoresFile:  r.Report.Scores,
		RisksFile: risksOutput{
			Questions:  r.Report.Questions,
			Unanswered: r.Report.Unanswered,
			FollowUp:   followUp(r.Gaps),
			Partial:    r.Partial,
		},
	}

	files := make(map[string][]byte, len(values))
	for name, v := range values {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		files[name] = data
	}
	return files, nil
}

// WriteDir writes the run outputs into dir, creating it if needed.
func WriteDir(dir string, r Result) error {
	files, err := r.Files()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range OutputNames {
		if err := os.WriteFile(filepath.Join(dir, name), files[name], 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}
