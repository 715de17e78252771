// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/internal/retrieve"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Query the built index",
	Long: `Search runs a query against knowledge.db and vectors.idx the way a
consuming application would. Semantic mode embeds the query and walks the
HNSW index; keyword mode uses FTS5; hybrid (the default) fuses both with
reciprocal rank fusion. Category, subcategory, tag and safety filters apply
in every mode.

Use --id to print a single entry in full.`,
	PreRunE: bindFlags(map[string]string{keyOutputDir: "output"}),
	RunE:    runSearch,
}

func init() {
	addFilterFlags(searchCmd)
	searchCmd.Flags().String("output", "generated", "directory holding the built artifacts")
	searchCmd.Flags().String("mode", string(retrieve.ModeHybrid), "search mode: semantic, keyword or hybrid")
	searchCmd.Flags().Int("limit", retrieve.DefaultK, "maximum results")
	searchCmd.Flags().String("id", "", "print the entry with this id")
	searchCmd.Flags().Bool("json", false, "output results as JSON")

	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	dir := viper.GetString(keyOutputDir)
	jsonOutput, _ := cmd.Flags().GetBool("json")

	if id, _ := cmd.Flags().GetString("id"); id != "" {
		return showEntry(cmd, dir, id, jsonOutput)
	}

	modeName, _ := cmd.Flags().GetString("mode")
	mode, err := retrieve.ParseMode(modeName)
	if err != nil {
		return err
	}
	opts, err := queryOptsFromFlags(cmd, args)
	if err != nil {
		return err
	}
	if opts.Query == "" {
		return fmt.Errorf("provide a search query")
	}
	opts.MaxResults, _ = cmd.Flags().GetInt("limit")

	embedder, release, err := optionalEmbedder()
	if err != nil {
		return err
	}
	defer release()
	if embedder == nil && mode != retrieve.ModeKeyword {
		return fmt.Errorf("%s search needs embedding.base_url; use --mode keyword for full-text only", mode)
	}

	s, err := retrieve.Open(cmd.Context(), dir, embedder)
	if err != nil {
		return err
	}
	defer s.Close()

	hits, err := s.Search(cmd.Context(), mode, opts)
	if err != nil {
		return err
	}
	return formatHits(hits, jsonOutput)
}

func showEntry(cmd *cobra.Command, dir, id string, jsonOutput bool) error {
	store, err := knowledge.OpenReadOnly(filepath.Join(dir, types.DatabaseFile))
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.Entry(cmd.Context(), id)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(e)
	}
	fmt.Printf("%s\n%s\n\n", e.Title, strings.Repeat("=", utf8.RuneCountInString(e.Title)))
	fmt.Printf("id:       %s\ncategory: %s\nsafety:   %s\n", e.ID, e.Category, e.SafetyLevel)
	if e.SourceFile != "" {
		fmt.Printf("source:   %s p.%d (%s)\n", e.SourceFile, e.SourcePage, e.License)
	}
	if e.SafetyNotes != "" {
		fmt.Printf("notes:    %s\n", e.SafetyNotes)
	}
	fmt.Printf("\n%s\n", e.Content)
	return nil
}

func formatHits(hits []retrieve.Hit, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}

	if len(hits) == 0 {
		fmt.Println("No results found.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-4s  %-7s  %-40s  %-12s  %-8s  %s\n",
		"Rank", "Score", "Title", "Category", "Safety", "Source")
	fmt.Fprintln(os.Stdout, strings.Repeat("-", 100))

	for i, h := range hits {
		source := h.SourceFile
		if h.SourcePage > 0 {
			source = fmt.Sprintf("%s p.%d", source, h.SourcePage)
		}
		fmt.Fprintf(os.Stdout, "%-4d  %-7.4f  %-40s  %-12s  %-8s  %s\n",
			i+1, h.Score, truncate(h.Title, 40), truncate(h.Category, 12), h.SafetyLevel, source)
	}

	fmt.Fprintf(os.Stdout, "\n%d results\n", len(hits))
	return nil
}

// truncate shortens s to n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// --- shared helpers ---

func addFilterFlags(cmd *cobra.Command) {
	cmd.Flags().String("category", "", "filter by category")
	cmd.Flags().String("subcategory", "", "filter by subcategory")
	cmd.Flags().StringSlice("tag", nil, "filter by tag (repeatable, all must match)")
	cmd.Flags().String("max-safety", "", "keep entries at or below this safety level")
	cmd.Flags().StringSlice("safety", nil, "keep entries with exactly these safety levels")
}

func queryOptsFromFlags(cmd *cobra.Command, args []string) (knowledge.QueryOptions, error) {
	category, _ := cmd.Flags().GetString("category")
	subcategory, _ := cmd.Flags().GetString("subcategory")
	tags, _ := cmd.Flags().GetStringSlice("tag")
	maxSafety, _ := cmd.Flags().GetString("max-safety")
	safety, _ := cmd.Flags().GetStringSlice("safety")

	opts := knowledge.QueryOptions{
		Query:       strings.Join(args, " "),
		Category:    category,
		Subcategory: subcategory,
		Tags:        tags,
	}
	if maxSafety != "" {
		l, err := types.ParseSafetyLevel(maxSafety)
		if err != nil {
			return opts, err
		}
		opts.MaxSafety = l
	}
	for _, s := range safety {
		l, err := types.ParseSafetyLevel(s)
		if err != nil {
			return opts, err
		}
		opts.Safety = append(opts.Safety, l)
	}
	return opts, nil
}
