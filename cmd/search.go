// =============================================================================
// Work-hours Merger - Search Command
// =============================================================================
//
// COMMAND USAGE:
//   workhours search
//
// Lists the workbooks under input_dir whose filename contains one of the
// configured keywords, descending at most search_max_depth directories.
//
// =============================================================================

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "List workbooks in the input directory that match a unit keyword",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _ := runContext(cmd)

		files, err := newPipeline().Search(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(files) == 0 {
			fmt.Fprintln(out, "No matching workbooks found.")
			return nil
		}
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
