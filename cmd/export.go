// =============================================================================
// Work-hours Merger - Export Command
// =============================================================================
//
// COMMAND USAGE:
//   workhours export [flags]
//
// FLAGS:
//   --filter   : Expression selecting the records to export (e.g. '時間 > 0')
//   --encoding : utf-8 or shift_jis
//   --bom      : Prefix UTF-8 output with a byte order mark
//
// Writes output_<unit>.csv next to each existing output_<unit>.json.
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/workhours-merger/internal/aggregator"
	"github.com/ginjaninja78/workhours-merger/internal/csvwriter"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

var (
	exportFilter   string
	exportEncoding string
	exportBOM      bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Project merged documents to CSV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _ := runContext(cmd)
		p := newPipeline()

		opts := p.ExportOptions()
		if cmd.Flags().Changed("filter") {
			opts.Filter = exportFilter
		}
		if cmd.Flags().Changed("encoding") {
			opts.Encoding = exportEncoding
		}
		if cmd.Flags().Changed("bom") {
			opts.BOM = exportBOM
		}
		if err := csvwriter.CheckFilter(opts.Filter); err != nil {
			return err
		}
		if _, err := csvwriter.NormalizeEncoding(opts.Encoding); err != nil {
			return err
		}

		outputs := make(map[string]string)
		for _, unit := range appConfig.Resolver().Keywords() {
			path := filepath.Join(appConfig.OutputDir, aggregator.OutputName(unit))
			if utils.FileExists(path) {
				outputs[unit] = path
			}
		}
		if len(outputs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No merged documents to export. Run 'workhours merge' first.")
			return nil
		}

		exports := p.Export(ctx, outputs, opts)
		for _, unit := range appConfig.Resolver().Keywords() {
			if path, ok := exports[unit]; ok {
				fmt.Fprintf(cmd.OutOrStdout(), "  ✓ %s -> %s\n", unit, path)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportFilter, "filter", "", "Expression selecting the records to export")
	exportCmd.Flags().StringVar(&exportEncoding, "encoding", "utf-8", "Output encoding: utf-8 or shift_jis")
	exportCmd.Flags().BoolVar(&exportBOM, "bom", false, "Write a UTF-8 byte order mark")
}
