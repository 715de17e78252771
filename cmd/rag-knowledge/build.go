// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/waycore/rag-knowledge/internal/build"
	"github.com/waycore/rag-knowledge/internal/catalog"
	"github.com/waycore/rag-knowledge/internal/parse"
	"github.com/waycore/rag-knowledge/internal/pdftext"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build knowledge.db and vectors.idx from the sources tree",
	Long: `Build walks sources/<category>/ for PDF, JSON and CSV files, parses them
into entries, stores them in knowledge.db with full-text search, embeds every
entry through the configured embeddings API and writes the HNSW index
vectors.idx. Existing outputs are replaced. Files that fail to parse are
reported and counted; the command exits non-zero if any did.`,
	PreRunE: bindFlags(map[string]string{
		keySourcesDir:   "sources",
		keyOutputDir:    "output",
		keyLockTimeout:  "lock-timeout",
		keyEmbedWorkers: "workers",
		keyEmbedCache:   "cache",
		keyPDFBackend:   "pdf-backend",
		keyPDFRuntime:   "pdf-runtime",
	}),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().String("sources", "sources", "directory holding one subdirectory per category")
	buildCmd.Flags().String("output", "generated", "directory receiving knowledge.db and vectors.idx")
	buildCmd.Flags().Duration("lock-timeout", 0, "how long to wait for a concurrent build (default 5s)")
	buildCmd.Flags().Int("workers", 0, "embedding batches sent concurrently (default 1)")
	buildCmd.Flags().String("cache", "", "bbolt file caching embeddings between builds")
	buildCmd.Flags().String("pdf-backend", "host", "PDF text extraction: host or container")
	buildCmd.Flags().String("pdf-runtime", "", "container runtime for the container backend: docker or podman (default: first available)")
	buildCmd.Flags().Bool("json", false, "print build statistics as JSON")

	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()

	cat, err := catalog.Load(cfg.SourcesDir)
	if err != nil {
		return err
	}
	extractor, err := pdftext.New(cfg.PDF)
	if err != nil {
		// JSON and CSV sources still build; PDFs fail individually.
		fmt.Fprintf(os.Stderr, "warning: PDF extraction unavailable: %v\n", err)
	}
	embedder, closeCache, err := openEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	defer closeCache()

	deps := build.Deps{
		Parser:   &parse.Parser{PDF: extractor, Chunk: cfg.Chunk},
		Embedder: embedder,
		Catalog:  cat,
	}
	jsonOutput, _ := cmd.Flags().GetBool("json")
	stats, err := runBuildTo(cmd.Context(), cfg, deps, jsonOutput, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if stats.FilesFailed > 0 {
		return fmt.Errorf("%d source file(s) failed to parse", stats.FilesFailed)
	}
	return nil
}

// runBuildTo runs the build with progress on stdout, or on stderr when the
// statistics are printed to stdout as JSON.
func runBuildTo(ctx context.Context, cfg types.BuildConfig, deps build.Deps, jsonOutput bool, stdout, stderr io.Writer) (build.Stats, error) {
	progress := stdout
	if jsonOutput {
		progress = stderr
	}
	stats, err := build.Run(ctx, cfg, deps, progress)
	if err != nil {
		return stats, err
	}
	if jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}
