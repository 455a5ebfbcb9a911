// =============================================================================
// Work-hours Merger - Extract Command
// =============================================================================
//
// COMMAND USAGE:
//   workhours extract [files...] [flags]
//
// FLAGS:
//   --clear : Empty the staging directory first
//   --copy  : Also copy each workbook into the staging directory
//
// Without arguments, the workbooks found by 'search' are extracted. Each
// workbook becomes one staged JSON document; a failing workbook is reported
// and the others continue.
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

var (
	extractClear bool
	extractCopy  bool
)

var extractCmd = &cobra.Command{
	Use:   "extract [files...]",
	Short: "Extract workbooks into staged JSON documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, _ := runContext(cmd)
		if extractCopy {
			appConfig.Extract.CopySource = true
		}
		p := newPipeline()

		if err := utils.NewFileManager("", appConfig.StagingDir, "", "").EnsureDirectories(); err != nil {
			return err
		}
		if extractClear {
			if _, err := p.ClearStaging(ctx); err != nil {
				return err
			}
		}

		files := args
		if len(files) == 0 {
			found, err := p.Search(ctx)
			if err != nil {
				return err
			}
			files = found
		}
		if len(files) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No workbooks to extract.")
			return nil
		}

		out := cmd.OutOrStdout()
		failed := 0
		for _, r := range p.ExtractAll(ctx, files) {
			if r.Success {
				fmt.Fprintf(out, "  ✓ %s -> %s (%d records)\n", filepath.Base(r.FilePath), r.StagedFile, r.Stats.Records)
				continue
			}
			failed++
			fmt.Fprintf(out, "  ✗ %s: %v\n", filepath.Base(r.FilePath), r.Error)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d workbook(s) failed to extract", failed, len(files))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().BoolVar(&extractClear, "clear", false, "Empty the staging directory before extracting")
	extractCmd.Flags().BoolVar(&extractCopy, "copy", false, "Copy each workbook into the staging directory as well")
}
