// =============================================================================
// Work-hours Merger - Main Entry Point
// =============================================================================
//
// USAGE:
//   workhours run           - Search, extract and merge in one pass
//   workhours extract       - Stage workbooks as grouped JSON documents
//   workhours merge         - Merge staged documents per unit
//   workhours serve         - Expose the pipeline over HTTP
//
// ARCHITECTURE:
//   - cmd/                  : CLI command definitions (Cobra)
//   - internal/extractor    : workbook -> grouped document
//   - internal/aggregator   : staged documents -> merged document per unit
//   - internal/pipeline     : search, extract, merge and export in sequence
//   - internal/server       : HTTP service (chi)
//   - pkg/utils             : filesystem housekeeping
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/workhours-merger/cmd"
)

func main() {
	cmd.Execute()
}
