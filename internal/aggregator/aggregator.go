// =============================================================================
// Work-hours Merger - Staged Document Aggregator
// =============================================================================
//
// This module merges the staged grouped documents of a run into one merged
// document per unit.
//
// PROCESSING FLOW:
//   1. List <staging>/*.json in directory order
//   2. Resolve each filename to a unit (first keyword substring wins);
//      files without a unit are ignored
//   3. Decode each document; malformed files are logged and skipped
//   4. For every record, build the composite key and parse the numeric field
//   5. Sum the numeric field of records sharing a key within the unit and
//      record every contributing filename once in merged_files
//   6. Write output_<unit>.json for each unit
//
// Non-numeric fields keep the values of the first record seen for a key.
//
// =============================================================================

package aggregator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ginjaninja78/workhours-merger/internal/types"
	"github.com/ginjaninja78/workhours-merger/internal/validation"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrMalformedDocument marks a staged file that is not a grouped document.
var ErrMalformedDocument = errors.New("malformed staged document")

// PersistError reports a merged document that could not be written.
type PersistError struct {
	Unit string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PersistError) Error() string {
	return fmt.Sprintf("persist unit %s to %s: %v", e.Unit, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RESULT
// =============================================================================

// Stats counts what happened during a merge.
type Stats struct {
	FilesSeen      int
	FilesMerged    int
	FilesSkipped   int
	FilesMalformed int
	RowsMerged     int
	RowsSkipped    int
}

// Result is the in-memory outcome of Collect.
type Result struct {
	// Units holds one document per unit that had at least one readable
	// staged file, in keyword order.
	Units []*types.MergedDocument

	Stats Stats

	// Skipped lists the rows left out of the merge.
	Skipped []*validation.ValidationError

	// Malformed lists the staged files that could not be decoded.
	Malformed []error
}

// Unit returns the merged document of unit, or nil.
func (r *Result) Unit(unit string) *types.MergedDocument {
	for _, doc := range r.Units {
		if doc.Unit == unit {
			return doc
		}
	}
	return nil
}

// RecordCount returns the number of merged records across all units.
func (r *Result) RecordCount() int {
	n := 0
	for _, doc := range r.Units {
		n += doc.Len()
	}
	return n
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator merges staged documents by unit and composite key.
type Aggregator struct {
	Resolver   *types.UnitResolver
	Fields     types.FieldNames
	NullPolicy validation.NullPolicy
	Shape      types.OutputShape
	StagingDir string
	OutputDir  string
}

// OutputName is the merged document filename for unit.
func OutputName(unit string) string {
	return fmt.Sprintf("output_%s.json", unit)
}

// Merge runs Collect and Persist and returns unit -> output path. It fails
// only when the staging directory cannot be listed or the output directory
// cannot be created.
func (a *Aggregator) Merge(ctx context.Context) (map[string]string, error) {
	result, err := a.Collect(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return a.Persist(ctx, result), nil
}

// Collect reads every staged document and merges it in memory.
func (a *Aggregator) Collect(ctx context.Context) (*Result, error) {
	logger := zerolog.Ctx(ctx)
	fields := a.Fields.WithDefaults()

	entries, err := os.ReadDir(a.StagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list staging directory %s: %w", a.StagingDir, err)
	}

	result := &Result{}
	units := make(map[string]*types.MergedDocument)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".json") {
			continue
		}
		result.Stats.FilesSeen++

		unit, ok := a.Resolver.Resolve(name)
		if !ok {
			result.Stats.FilesSkipped++
			logger.Debug().Str("file", name).Msg("no unit keyword in filename, skipping")
			continue
		}

		doc, err := readStaged(filepath.Join(a.StagingDir, name))
		if err != nil {
			result.Stats.FilesMalformed++
			result.Malformed = append(result.Malformed, err)
			logger.Error().Err(err).Str("file", name).Msg("skipping staged document")
			continue
		}

		merged, ok := units[unit]
		if !ok {
			merged = types.NewMergedDocument(unit, a.Shape)
			units[unit] = merged
		}
		a.mergeDocument(ctx, merged, name, doc, fields, result)
		result.Stats.FilesMerged++
	}

	for _, kw := range a.Resolver.Keywords() {
		if doc, ok := units[kw]; ok {
			result.Units = append(result.Units, doc)
		}
	}

	logger.Info().
		Int("files", result.Stats.FilesMerged).
		Int("skipped_files", result.Stats.FilesSkipped).
		Int("malformed_files", result.Stats.FilesMalformed).
		Int("rows", result.Stats.RowsMerged).
		Int("skipped_rows", result.Stats.RowsSkipped).
		Msg("staged documents merged")
	return result, nil
}

// mergeDocument folds every record of doc into merged.
func (a *Aggregator) mergeDocument(ctx context.Context, merged *types.MergedDocument, filename string, doc *types.GroupedDocument, fields types.FieldNames, result *Result) {
	logger := zerolog.Ctx(ctx)

	skip := func(verr *validation.ValidationError) {
		result.Stats.RowsSkipped++
		result.Skipped = append(result.Skipped, verr)
		logger.Warn().
			Str("file", verr.File).
			Str("sheet", verr.Sheet).
			Str("group", verr.Group).
			Int("index", verr.Index).
			Str("rule", verr.Rule).
			Str("field", verr.Field).
			Msg(verr.Message)
	}

	for _, sheet := range doc.Sheets {
		for _, group := range sheet.Groups {
			for i, rec := range group.Records {
				key, verr := validation.CompositeKey(rec, fields)
				if verr != nil {
					skip(verr.Locate(filename, sheet.Name, group.Name, i))
					continue
				}
				value, verr := validation.Numeric(rec, fields.Numeric, a.NullPolicy)
				if verr != nil {
					skip(verr.Locate(filename, sheet.Name, group.Name, i))
					continue
				}
				accumulate(merged, key, rec, filename, fields.Numeric, value)
				result.Stats.RowsMerged++
			}
		}
	}
}

// accumulate adds one parsed record to the merged document.
func accumulate(merged *types.MergedDocument, key types.CompositeKey, rec *types.Record, filename, numericField string, value float64) {
	existing, ok := merged.Lookup(key)
	if !ok {
		clone := rec.Clone()
		clone.Set(numericField, value)
		clone.Set(types.MergedFilesField, []string{filename})
		merged.Insert(key, clone)
		return
	}

	total, _ := existing.Get(numericField)
	sum, _ := total.(float64)
	existing.Set(numericField, sum+value)

	files, _ := existing.Get(types.MergedFilesField)
	list, _ := files.([]string)
	if !slices.Contains(list, filename) {
		existing.Set(types.MergedFilesField, append(list, filename))
	}
}

// readStaged decodes one staged document.
func readStaged(path string) (*types.GroupedDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, filepath.Base(path), err)
	}
	defer f.Close()

	doc, err := types.DecodeGroupedDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDocument, filepath.Base(path), err)
	}
	return doc, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Persist writes output_<unit>.json for every unit in result and returns
// unit -> path. A unit that cannot be written is logged and left out.
func (a *Aggregator) Persist(ctx context.Context, result *Result) map[string]string {
	logger := zerolog.Ctx(ctx)
	outputs := make(map[string]string, len(result.Units))

	for _, doc := range result.Units {
		path := filepath.Join(a.OutputDir, OutputName(doc.Unit))
		if err := utils.WriteJSONFile(path, doc); err != nil {
			perr := &PersistError{Unit: doc.Unit, Path: path, Err: err}
			logger.Error().Err(perr).Str("unit", doc.Unit).Msg("failed to write merged document")
			continue
		}
		outputs[doc.Unit] = path
		logger.Info().Str("unit", doc.Unit).Int("records", doc.Len()).Str("path", path).Msg("merged document written")
	}
	return outputs
}
