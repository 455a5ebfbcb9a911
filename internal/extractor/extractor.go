// =============================================================================
// Work-hours Merger - Workbook Extractor
// =============================================================================
//
// This module converts one workbook into a GroupedDocument:
//
//   { "<sheet>": { "<group>": [ {header: value, ...}, ... ] } }
//
// WORKBOOK LAYOUT (per sheet):
//
//   | グループ | 指図書No | 補足 | 時間 |
//   |----------|----------|------|------|
//   | A        | 1        | x    | 2.5  |
//   |          | 2        | y    | 3    |   <- carried into group A
//   | B        | 3        |      | 1    |
//
//   Row 1 holds the headers. The group column is the header equal to
//   Options.GroupHeader, or column A when no header matches. A blank group
//   cell continues the most recent group; rows before the first group are
//   filed under UNDEFINED.
//
// CELL VALUES:
//   Formula cells contribute their cached result, never the formula text.
//   Numeric cells become JSON numbers unless their display format turns
//   them into something else (dates, times), in which case the displayed
//   text is kept. Empty cells become null.
//
// =============================================================================

package extractor

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/workhours-merger/internal/types"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

// =============================================================================
// ERRORS
// =============================================================================

// ExtractionError reports a workbook that could not be read. It is fatal for
// that workbook only.
type ExtractionError struct {
	Path  string
	Sheet string
	Op    string
	Err   error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Sheet != "" {
		return fmt.Sprintf("extract %s: sheet %q: %s: %v", e.Path, e.Sheet, e.Op, e.Err)
	}
	return fmt.Sprintf("extract %s: %s: %v", e.Path, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options controls extraction.
type Options struct {
	// GroupHeader names the group column and the record field that receives
	// the carried group.
	// Default: "グループ"
	GroupHeader string

	// SkipGroupHeaderRows drops rows whose only non-null cell is the group
	// cell. Such rows still start a new group.
	// Default: false
	SkipGroupHeaderRows bool
}

// DefaultOptions returns the default extraction options.
func DefaultOptions() Options {
	return Options{
		GroupHeader: types.DefaultGroupField,
	}
}

func (o Options) withDefaults() Options {
	if o.GroupHeader == "" {
		o.GroupHeader = types.DefaultGroupField
	}
	return o
}

// =============================================================================
// EXTRACTION
// =============================================================================

// Extract reads every sheet of the workbook at path.
func Extract(ctx context.Context, path string, opts Options) (*types.GroupedDocument, error) {
	opts = opts.withDefaults()
	logger := zerolog.Ctx(ctx).With().Str("workbook", filepath.Base(path)).Logger()

	f, err := excelize.OpenFile(path)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open workbook")
		return nil, &ExtractionError{Path: path, Op: "open", Err: err}
	}
	defer f.Close()

	doc := &types.GroupedDocument{}
	for _, sheetName := range f.GetSheetList() {
		rows, err := readSheet(f, sheetName)
		if err != nil {
			logger.Error().Err(err).Str("sheet", sheetName).Msg("failed to read sheet")
			return nil, &ExtractionError{Path: path, Sheet: sheetName, Op: "read rows", Err: err}
		}

		sheet := doc.AddSheet(sheetName)
		groupSheet(sheet, rows, opts)

		logger.Debug().
			Str("sheet", sheetName).
			Int("rows", len(rows)).
			Int("groups", len(sheet.Groups)).
			Msg("sheet extracted")
	}

	logger.Info().
		Int("sheets", len(doc.Sheets)).
		Int("records", doc.RecordCount()).
		Msg("workbook extracted")
	return doc, nil
}

// ExtractToFile extracts the workbook at path and writes the document into
// stagingDir under the name utils.StagedName(path, baseDir). It returns the
// staged path.
func ExtractToFile(ctx context.Context, path, baseDir, stagingDir string, opts Options) (string, error) {
	doc, err := Extract(ctx, path, opts)
	if err != nil {
		return "", err
	}
	return WriteStaged(ctx, doc, path, baseDir, stagingDir)
}

// WriteStaged writes an extracted document for the workbook at path into
// stagingDir and returns the staged path.
func WriteStaged(ctx context.Context, doc *types.GroupedDocument, path, baseDir, stagingDir string) (string, error) {
	staged := filepath.Join(stagingDir, utils.StagedName(path, baseDir))
	if err := utils.WriteJSONFile(staged, doc); err != nil {
		return "", &ExtractionError{Path: path, Op: "write staged document", Err: err}
	}

	zerolog.Ctx(ctx).Debug().Str("workbook", filepath.Base(path)).Str("staged", staged).Msg("staged document written")
	return staged, nil
}

// =============================================================================
// GROUPING
// =============================================================================

// groupSheet files the data rows of one sheet under their carried group.
// rows[0] is the header row.
func groupSheet(sheet *types.Sheet, rows [][]any, opts Options) {
	if len(rows) == 0 {
		return
	}

	headers := headerNames(rows[0])
	groupIdx := findGroupColumn(headers, opts.GroupHeader)

	state := initialCarry()
	for _, row := range rows[1:] {
		var rec *types.Record
		state, rec = step(state, row, headers, groupIdx, opts)
		if rec != nil {
			sheet.Append(state.Name, rec)
		}
	}
}

// carry is the group accumulator threaded through the rows of a sheet.
type carry struct {
	// Value is written into each record's group field.
	Value any

	// Name is the group key in the document.
	Name string
}

func initialCarry() carry {
	return carry{Value: types.UndefinedGroup, Name: types.UndefinedGroup}
}

// step folds one data row into the accumulator. It returns the next
// accumulator and the record to emit, or nil when the row is skipped.
func step(state carry, row []any, headers []string, groupIdx int, opts Options) (carry, *types.Record) {
	if isRowEmpty(row) {
		return state, nil
	}

	groupCell := cellAt(row, groupIdx)
	startsGroup := !isBlank(groupCell)
	if startsGroup {
		state = carry{Value: groupCell, Name: groupName(groupCell)}
	}

	if opts.SkipGroupHeaderRows && startsGroup && onlyCellSet(row, groupIdx) {
		return state, nil
	}

	rec := types.NewRecord()
	for i, header := range headers {
		if header == "" {
			continue
		}
		rec.Set(header, cellAt(row, i))
	}
	rec.Set(opts.GroupHeader, state.Value)
	return state, rec
}

// findGroupColumn returns the index of the first header equal to name, or 0.
func findGroupColumn(headers []string, name string) int {
	for i, h := range headers {
		if h == name {
			return i
		}
	}
	return 0
}
