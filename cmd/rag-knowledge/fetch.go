// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/fetch"
	"github.com/waycore/rag-knowledge/internal/secrets"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download a released index",
	Long: `Fetch downloads manifest.json from the release base URL, then every file it
lists. Each file is checked against the manifest sha256 before it replaces
the local copy; files already up to date are skipped.`,
	PreRunE: bindFlags(map[string]string{
		keyFetchURL:  "base-url",
		keyOutputDir: "output",
	}),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("base-url", "", "release location holding manifest.json")
	fetchCmd.Flags().String("output", "generated", "directory receiving the release files")

	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg := types.FetchConfig{
		HTTPConfig: httpConfig(),
		BaseURL:    viper.GetString(keyFetchURL),
		OutputDir:  viper.GetString(keyOutputDir),
		Token:      secrets.Fallback(viper.GetString(keyFetchToken), loadedSecrets, secrets.ReleaseToken),
	}
	_, err := fetch.Run(cmd.Context(), httpClient(), cfg, os.Stdout)
	return err
}
