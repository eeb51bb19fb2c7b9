package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/diligence/internal/bootstrap"
	"github.com/OFFIS-RIT/diligence/pkg/assess"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/pipeline"
	"github.com/OFFIS-RIT/diligence/pkg/question"
	"github.com/OFFIS-RIT/diligence/pkg/risk"

	"github.com/spf13/cobra"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score existing answers to the critical questions",
	Long: `Classify already answered critical questions and aggregate the
category scores. --answers is either an answers.json written by "ddq run"
or a JSON object mapping question ids to answer text.`,
	RunE: runScore,
}

func init() {
	scoreCmd.Flags().String("critical", "", "critical questions (YAML or JSON)")
	scoreCmd.Flags().String("answers", "", "answers file")
	scoreCmd.Flags().String("out", "", "write scores.json and risks.json to this directory")
	scoreCmd.Flags().Int("parallel", 4, "classifications run concurrently")
	_ = scoreCmd.MarkFlagRequired("critical")
	_ = scoreCmd.MarkFlagRequired("answers")
}

func runScore(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	criticalPath, _ := flags.GetString("critical")
	answersPath, _ := flags.GetString("answers")
	outDir, _ := flags.GetString("out")
	parallel, _ := flags.GetInt("parallel")

	critical, _, err := question.LoadCritical(criticalPath)
	if err != nil {
		return fmt.Errorf("load critical questions: %w", err)
	}
	data, err := os.ReadFile(answersPath)
	if err != nil {
		return fmt.Errorf("read answers: %w", err)
	}
	answers, err := parseAnswers(data)
	if err != nil {
		return err
	}

	client, err := bootstrap.AIClient()
	if err != nil {
		return err
	}
	scorer := risk.NewScorer(assess.NewService(assess.NewServiceParams{Client: client}), parallel)
	report, err := scorer.Score(cmd.Context(), critical, answers)
	if err != nil {
		return err
	}

	printScores(cmd, report.Scores)
	if outDir == "" {
		return nil
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	files := map[string]any{
		pipeline.ScoresFile: report.Scores,
		pipeline.RisksFile:  map[string]any{"questions": report.Questions, "unanswered": report.Unanswered},
	}
	for name, v := range files {
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(outDir, name), b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// parseAnswers accepts an answers table or an id to answer object.
func parseAnswers(data []byte) (map[string]string, error) {
	var table []common.AnswerRecord
	if err := json.Unmarshal(data, &table); err == nil {
		out := make(map[string]string, len(table))
		for _, a := range table {
			out[a.QuestionID] = a.AnswerText
		}
		return out, nil
	}
	var byID map[string]string
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("decode answers: expected an answers table or an id to answer object: %w", err)
	}
	return byID, nil
}
