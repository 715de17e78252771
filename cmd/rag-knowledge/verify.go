// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [dir]",
	Short: "Validate a built index before release",
	Long: `Verify checks database integrity and tables, that the vector index loads
and holds one vector per entry, that manifest.json agrees with the database
and the artifact hashes, and runs sample searches. Sample searches need an
embeddings endpoint and are skipped when none is configured.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: bindFlags(map[string]string{keyOutputDir: "output"}),
	RunE:    runVerify,
}

func init() {
	verifyCmd.Flags().String("output", "generated", "directory holding the built artifacts")
	verifyCmd.Flags().Bool("no-search", false, "skip the sample search checks")
	verifyCmd.Flags().Bool("json", false, "print the report as JSON")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	dir := viper.GetString(keyOutputDir)
	if len(args) == 1 {
		dir = args[0]
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("directory not found: %s", dir)
	}

	opts := verify.Options{Dir: dir}
	if noSearch, _ := cmd.Flags().GetBool("no-search"); !noSearch {
		p, release, err := optionalEmbedder()
		if err != nil {
			return err
		}
		defer release()
		if p != nil {
			opts.Embedder = p
			opts.Dimensions = p.Dim()
		}
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	out := os.Stdout
	if jsonOutput {
		out = os.Stderr
	}
	report := verify.Run(cmd.Context(), opts, out)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	}
	if !report.Passed() {
		return fmt.Errorf("verification failed")
	}
	return nil
}
