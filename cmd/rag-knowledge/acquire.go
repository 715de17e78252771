// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/catalog"
)

const defaultDelay = 1 * time.Second

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Download source documents listed in sources.yaml",
	Long: `Acquire reads sources/sources.yaml and downloads every listed document
that is not yet on disk into its category directory. Entries that carry a
sha256 are verified before they are kept. Existing files are skipped.`,
	PreRunE: bindFlags(map[string]string{keySourcesDir: "sources"}),
	RunE:    runAcquire,
}

func init() {
	acquireCmd.Flags().String("sources", "sources", "directory holding sources.yaml and the category directories")
	acquireCmd.Flags().Duration("delay", 0, "delay between consecutive downloads (default 1s)")

	rootCmd.AddCommand(acquireCmd)
}

func runAcquire(cmd *cobra.Command, args []string) error {
	root := viper.GetString(keySourcesDir)
	delay, _ := cmd.Flags().GetDuration("delay")
	if delay == 0 {
		delay = defaultDelay
	}

	cat, err := catalog.Load(root)
	if err != nil {
		return err
	}
	if len(cat.Sources) == 0 {
		return fmt.Errorf("no sources listed in %s/%s", root, catalog.FileName)
	}

	opts := catalog.AcquireOptions{HTTPConfig: httpConfig(), Delay: delay}
	result := catalog.Acquire(cmd.Context(), httpClient(), cat, root, opts, os.Stdout)
	if result.HasFailures() {
		return fmt.Errorf("%d source(s) failed acquisition", result.Failed)
	}
	return nil
}
