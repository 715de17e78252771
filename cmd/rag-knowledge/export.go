// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/waycore/rag-knowledge/internal/knowledge"
	"github.com/waycore/rag-knowledge/pkg/types"
)

var exportCmd = &cobra.Command{
	Use:   "export [query]",
	Short: "Export entries to YAML or JSON",
	Long: `Export writes the entries of knowledge.db (or a filtered subset) as YAML
or JSON, to stdout or to --file. An optional query restricts the export to
full-text matches; the filter flags match those of search.`,
	PreRunE: bindFlags(map[string]string{keyOutputDir: "output"}),
	RunE:    runExport,
}

func init() {
	addFilterFlags(exportCmd)
	exportCmd.Flags().String("output", "generated", "directory holding the built artifacts")
	exportCmd.Flags().String("format", "yaml", "export format: yaml or json")
	exportCmd.Flags().String("file", "", "write to this file instead of stdout")
	exportCmd.Flags().Int("limit", 0, "maximum entries to export (0 = all)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	file, _ := cmd.Flags().GetString("file")
	limit, _ := cmd.Flags().GetInt("limit")

	opts, err := queryOptsFromFlags(cmd, args)
	if err != nil {
		return err
	}
	opts.Query = knowledge.MatchExpr(opts.Query)
	opts.MaxResults = limit

	store, err := knowledge.OpenReadOnly(filepath.Join(viper.GetString(keyOutputDir), types.DatabaseFile))
	if err != nil {
		return err
	}
	defer store.Close()

	if err := exportTo(cmd.Context(), store, format, file, cmd.OutOrStdout(), opts); err != nil {
		return err
	}
	if file != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported to %s\n", file)
	}
	return nil
}

type exportFunc func(context.Context, io.Writer, knowledge.QueryOptions) error

// exportTo writes the selected entries to file, or to stdout when file is
// empty. The format is checked before file is created.
func exportTo(ctx context.Context, store *knowledge.Store, format, file string, stdout io.Writer, opts knowledge.QueryOptions) error {
	var export exportFunc
	switch format {
	case "yaml", "":
		export = store.ExportYAML
	case "json":
		export = store.ExportJSON
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if file == "" {
		return export(ctx, stdout, opts)
	}

	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	bw := bufio.NewWriter(f)
	if err := export(ctx, bw, opts); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", file, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", file, err)
	}
	return nil
}
