// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/manifest"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var manifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Write manifest.json describing the built release",
	Long: `Manifest reads knowledge.db and vectors.idx from the output directory and
writes manifest.json with the release version, build metadata, entry counts
per category, and the size and sha256 of each artifact.`,
	PreRunE: bindFlags(map[string]string{keyOutputDir: "output"}),
	RunE:    runManifest,
}

func init() {
	manifestCmd.Flags().String("output", "generated", "directory holding the built artifacts")
	manifestCmd.Flags().String("release", manifest.DefaultVersion, "release version string")
	manifestCmd.Flags().String("source-hash", "", "override the source hash recorded by the build")
	manifestCmd.Flags().String("model", "", "override the embedding model recorded by the build")

	rootCmd.AddCommand(manifestCmd)
}

func runManifest(cmd *cobra.Command, args []string) error {
	dir := viper.GetString(keyOutputDir)
	release, _ := cmd.Flags().GetString("release")
	sourceHash, _ := cmd.Flags().GetString("source-hash")
	model, _ := cmd.Flags().GetString("model")

	m, err := manifest.Generate(cmd.Context(), dir, manifest.Options{
		Version:        release,
		SourceHash:     sourceHash,
		EmbeddingModel: model,
	})
	if err != nil {
		return err
	}
	path := filepath.Join(dir, types.ManifestFile)
	if err := manifest.Write(path, m); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Generated manifest: %s\n", path)
	fmt.Fprintf(os.Stdout, "  Version: %s\n", m.Version)
	fmt.Fprintf(os.Stdout, "  Total entries: %d\n", m.TotalEntries)
	fmt.Fprintf(os.Stdout, "  Categories: %d\n", len(m.Categories))
	return nil
}
