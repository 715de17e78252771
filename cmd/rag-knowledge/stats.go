// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var statsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show entry counts and build metadata of knowledge.db",
	PreRunE: bindFlags(map[string]string{keyOutputDir: "output"}),
	RunE:    runStats,
}

func init() {
	statsCmd.Flags().String("output", "generated", "directory holding the built artifacts")
	statsCmd.Flags().Bool("json", false, "output as JSON")

	rootCmd.AddCommand(statsCmd)
}

type dbStats struct {
	TotalEntries int                       `json:"total_entries"`
	Categories   map[string]int            `json:"categories"`
	Safety       map[types.SafetyLevel]int `json:"safety_levels"`
	Metadata     map[string]string         `json:"metadata"`
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := knowledge.OpenReadOnly(filepath.Join(viper.GetString(keyOutputDir), types.DatabaseFile))
	if err != nil {
		return err
	}
	defer store.Close()

	var s dbStats
	if s.TotalEntries, err = store.Count(ctx); err != nil {
		return err
	}
	if s.Categories, err = store.CategoryCounts(ctx); err != nil {
		return err
	}
	if s.Safety, err = store.SafetyCounts(ctx); err != nil {
		return err
	}
	s.Metadata = make(map[string]string)
	for _, key := range []string{knowledge.MetaEmbeddingModel, knowledge.MetaEmbeddingDim, knowledge.MetaBuildTime, knowledge.MetaSourceHash} {
		v, err := store.Meta(ctx, key)
		if err != nil {
			return err
		}
		if v != "" {
			s.Metadata[key] = v
		}
	}

	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	fmt.Printf("Total entries: %d\n", s.TotalEntries)
	fmt.Println("\nEntries by category:")
	cats := make([]string, 0, len(s.Categories))
	for c := range s.Categories {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		fmt.Printf("  %-14s %d\n", c, s.Categories[c])
	}
	fmt.Println("\nEntries by safety level:")
	for _, l := range types.SafetyLevels {
		fmt.Printf("  %-14s %d\n", l, s.Safety[l])
	}
	if len(s.Metadata) > 0 {
		fmt.Println("\nBuild metadata:")
		keys := make([]string, 0, len(s.Metadata))
		for k := range s.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-20s %s\n", k, s.Metadata[k])
		}
	}
	return nil
}
