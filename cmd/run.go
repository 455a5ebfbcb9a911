// =============================================================================
// Work-hours Merger - Run Command
// =============================================================================
//
// This file defines the 'run' command, which executes the whole pipeline.
//
// COMMAND USAGE:
//   workhours run [flags]
//
// FLAGS:
//   --clear  : Empty the staging directory before extracting
//   --export : Also write output_<unit>.csv
//
// PROCESSING PIPELINE:
//   1. Search input_dir for workbooks named with a unit keyword
//   2. Extract each workbook into staging_dir
//   3. Merge the staged documents into output_<unit>.json
//   4. Optionally export CSV
//   5. Write the processing summary into error_dir
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var (
	runClear  bool
	runExport bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Search, extract and merge in one pass",
	Long: `The run command searches the input directory for workbooks, extracts each
one into the staging directory and merges the staged documents per unit.

A workbook that cannot be read is reported and skipped; the merge still
runs over everything that was staged. A summary of the run is written to
the error directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, runID := runContext(cmd)
		if runClear {
			appConfig.Extract.ClearStaging = true
		}
		if runExport {
			appConfig.Export.Enabled = true
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "=== Work-hours Merger ===")

		summary, err := newPipeline().Run(ctx, runID)
		if err != nil {
			return err
		}

		for _, ff := range summary.FailedFiles {
			fmt.Fprintf(out, "  ✗ %s: %s\n", filepath.Base(ff.InputFile), ff.ErrorMessage)
		}
		for _, unit := range appConfig.Resolver().Keywords() {
			if path, ok := summary.Outputs[unit]; ok {
				fmt.Fprintf(out, "  ✓ %s -> %s\n", unit, path)
			}
			if path, ok := summary.Exports[unit]; ok {
				fmt.Fprintf(out, "  ✓ %s -> %s\n", unit, path)
			}
		}

		fmt.Fprintln(out, "\n=== Processing Complete ===")
		fmt.Fprintf(out, "Workbooks found:  %d\n", summary.FilesFound)
		fmt.Fprintf(out, "Extracted:        %d\n", summary.Extracted)
		fmt.Fprintf(out, "Failed:           %d\n", len(summary.FailedFiles))
		fmt.Fprintf(out, "Merged records:   %d\n", summary.MergedRecords)
		fmt.Fprintf(out, "Skipped rows:     %d\n", summary.SkippedRows)
		fmt.Fprintf(out, "Time elapsed:     %s\n", summary.EndTime.Sub(summary.StartTime).Round(time.Millisecond))

		if len(summary.FailedFiles) > 0 || summary.SkippedRows > 0 {
			fmt.Fprintf(out, "\nDetails have been logged to %s.\n", appConfig.ErrorDir)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&runClear, "clear", false, "Empty the staging directory before extracting")
	runCmd.Flags().BoolVar(&runExport, "export", false, "Also write output_<unit>.csv")
}
