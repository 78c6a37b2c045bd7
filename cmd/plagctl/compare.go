package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RishiKendai/plagcode/internal/models"
	"github.com/RishiKendai/plagcode/internal/plagiarism"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var compareCmd = &cobra.Command{
	Use:   "compare [files...]",
	Short: "Compare files locally without a server",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runCompare,
}

func init() {
	compareCmd.Flags().Bool("ignore-comments", true, "Drop comments before fingerprinting")
	compareCmd.Flags().Bool("normalize-identifiers", false, "Rename identifiers by first appearance")
	compareCmd.Flags().String("language", "", "Treat every file as this language")
	compareCmd.Flags().IntP("kgram", "k", 5, "K-gram size")
	compareCmd.Flags().IntP("window", "w", 4, "Winnowing window size")

	rootCmd.AddCommand(compareCmd)
}

func runCompare(cmd *cobra.Command, args []string) error {
	ignoreComments, _ := cmd.Flags().GetBool("ignore-comments")
	normalizeIDs, _ := cmd.Flags().GetBool("normalize-identifiers")
	language, _ := cmd.Flags().GetString("language")
	k, _ := cmd.Flags().GetInt("kgram")
	w, _ := cmd.Flags().GetInt("window")
	asJSON, _ := cmd.Flags().GetBool("json")

	engine := plagiarism.NewEngine(plagiarism.WithKGram(k), plagiarism.WithWindow(w))
	opts := plagiarism.Options{IgnoreComments: ignoreComments, NormalizeIdentifiers: normalizeIDs}

	docs, excluded, err := prepareLocal(engine, args, language, opts)
	if err != nil {
		return err
	}
	for _, name := range excluded {
		color.Yellow("Excluded unreadable file %s", name)
	}
	if len(docs) < 2 {
		return fmt.Errorf("need at least 2 readable files, got %d", len(docs))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	pool := plagiarism.NewWorkerPool(ctx, 0)
	defer pool.Close()

	bar := newBar("Comparing", len(docs)*(len(docs)-1)/2)
	rows, err := plagiarism.ComparePairs(ctx, pool, engine, docs, func() { _ = bar.Add(1) })
	_ = bar.Finish()
	_ = bar.Clear()
	if err != nil {
		return err
	}
	plagiarism.SortResults(rows)

	if asJSON {
		return printJSON(models.ResultsResponse{
			Meta: models.ResultsMeta{
				NFiles:         len(docs),
				NPairs:         len(rows),
				Excluded:       excluded,
				MeanSimilarity: plagiarism.Summarize(rows).MeanSimilarity,
			},
			Pairs: rows,
		})
	}
	renderPairs(os.Stdout, rows)
	renderSummary(os.Stdout, rows)
	return nil
}

// prepareLocal reads and fingerprints paths; unreadable files are returned separately
func prepareLocal(engine *plagiarism.Engine, paths []string, language string, opts plagiarism.Options) ([]*plagiarism.Document, []string, error) {
	docs := make([]*plagiarism.Document, 0, len(paths))
	excluded := []string{}
	seen := make(map[string]bool, len(paths))

	for _, path := range paths {
		name := filepath.ToSlash(filepath.Clean(path))
		if seen[name] {
			return nil, nil, fmt.Errorf("duplicate file %s", name)
		}
		seen[name] = true
		if plagiarism.IsBinaryName(name) {
			return nil, nil, fmt.Errorf("unsupported file type: %s", name)
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		text, err := plagiarism.DecodeSource(raw)
		if err != nil {
			excluded = append(excluded, name)
			continue
		}
		lang := plagiarism.ResolveLanguage(name, language, true)
		docs = append(docs, engine.Prepare(name, plagiarism.Normalize(text, lang, opts).Tokens))
	}
	return docs, excluded, nil
}
