package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/diligence/internal/bootstrap"
	"github.com/OFFIS-RIT/diligence/pkg/common"
	"github.com/OFFIS-RIT/diligence/pkg/ingest"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	"github.com/OFFIS-RIT/diligence/pkg/pipeline"
	"github.com/OFFIS-RIT/diligence/pkg/question"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest documents, answer the questions and write the output tables",
	Long: `Ingest every .txt and .md file below --docs (plus any --url pages),
answer the question bank and the critical questions, and write
answers.json, gaps.json, scores.json and risks.json to --out.

Without --questions the critical questions are the bank.`,
	RunE: runRun,
}

var textExtensions = []string{".txt", ".md", ".markdown"}

func init() {
	runCmd.Flags().String("docs", "", "directory of extracted document text")
	runCmd.Flags().String("questions", "", "question bank (YAML or JSON)")
	runCmd.Flags().String("critical", "", "critical questions (YAML or JSON)")
	runCmd.Flags().String("out", "out", "output directory")
	runCmd.Flags().StringSlice("url", nil, "public page to ingest as corroborating evidence")
	runCmd.Flags().Int("parallel", 4, "questions processed concurrently")
	runCmd.Flags().Int("top-k", 0, "fragments retrieved per question (0 uses the default)")
	_ = runCmd.MarkFlagRequired("critical")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	flags := cmd.Flags()
	docsDir, _ := flags.GetString("docs")
	bankPath, _ := flags.GetString("questions")
	criticalPath, _ := flags.GetString("critical")
	outDir, _ := flags.GetString("out")
	urls, _ := flags.GetStringSlice("url")
	parallel, _ := flags.GetInt("parallel")
	topK, _ := flags.GetInt("top-k")

	if docsDir == "" && len(urls) == 0 {
		return errors.New("either --docs or --url is required")
	}

	critical, _, err := question.LoadCritical(criticalPath)
	if err != nil {
		return fmt.Errorf("load critical questions: %w", err)
	}
	bank := critical
	if bankPath != "" {
		bank, _, err = question.LoadBank(bankPath)
		if err != nil {
			return fmt.Errorf("load question bank: %w", err)
		}
	}

	var docs []common.Document
	if docsDir != "" {
		docs, err = readDocuments(docsDir)
		if err != nil {
			return err
		}
	}
	if len(urls) > 0 {
		docs = append(docs, bootstrap.Fetcher().FetchAll(ctx, urls)...)
	}

	client, err := bootstrap.AIClient()
	if err != nil {
		return err
	}
	extractor, closeCache, err := bootstrap.Extractor(ctx, client)
	if err != nil {
		return err
	}
	defer closeCache()
	keywords := bootstrap.Keywords()

	corpus := ingest.NewMemoryCorpus(client)
	ingested, err := ingest.NewIngester(ingest.NewIngesterParams{
		Splitter:  bootstrap.Splitter(),
		Store:     corpus,
		Index:     corpus,
		Extractor: extractor,
		Keywords:  keywords,
		Parallel:  parallel,
	}).Ingest(ctx, docs)
	if err != nil {
		return err
	}
	logger.Info("[DDQ] Ingested", "documents", len(docs), "fragments", len(ingested.Fragments), "flagged", len(ingested.Flagged), "relevant_documents", len(ingested.Relevant))

	runner := pipeline.NewModelRunner(pipeline.NewModelRunnerParams{
		Client:     client,
		Similarity: corpus,
		Fragments:  corpus,
		Graph:      ingested.Graph,
		Extractor:  extractor,
		Keywords:   keywords,
		Parallel:   parallel,
		TopK:       topK,
	})
	result, runErr := runner.Run(ctx, bank, critical)

	if err := pipeline.WriteDir(outDir, result); err != nil {
		return err
	}
	printScores(cmd, result.Report.Scores)

	metrics := client.GetMetrics()
	logger.Info("[DDQ] Model usage", "input_tokens", metrics.InputTokens, "output_tokens", metrics.OutputTokens)
	if runErr != nil {
		return fmt.Errorf("run interrupted, partial results in %s: %w", outDir, runErr)
	}
	return nil
}

// readDocuments loads every text file below dir, sources relative to dir.
func readDocuments(dir string) ([]common.Document, error) {
	var docs []common.Document
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !slices.Contains(textExtensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		docs = append(docs, common.Document{Source: filepath.ToSlash(rel), Text: string(data)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}
	return docs, nil
}

func printScores(cmd *cobra.Command, scores map[string]float64) {
	keys := make([]string, 0, len(scores))
	for k := range scores {
		if k != common.TotalKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	keys = append(keys, common.TotalKey)
	for _, k := range keys {
		cmd.Printf("%-24s %6.2f\n", k, scores[k])
	}
}
