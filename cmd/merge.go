// =============================================================================
// Work-hours Merger - Merge Command
// =============================================================================
//
// COMMAND USAGE:
//   workhours merge
//
// Merges every staged document into output_<unit>.json. Rows that cannot
// be merged are listed on stdout and appended to <error_dir>/skipped_rows.log.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/workhours-merger/internal/validation"
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge staged documents into one document per unit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _ := runContext(cmd)

		result, outputs, err := newPipeline().Merge(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, unit := range appConfig.Resolver().Keywords() {
			if path, ok := outputs[unit]; ok {
				fmt.Fprintf(out, "  ✓ %s -> %s (%d records)\n", unit, path, result.Unit(unit).Len())
			}
		}
		if len(outputs) == 0 {
			fmt.Fprintln(out, "No staged documents matched a unit keyword.")
		}
		if len(result.Skipped) > 0 {
			fmt.Fprintln(out)
			fmt.Fprint(out, validation.FormatErrors(result.Skipped))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mergeCmd)
}
