// =============================================================================
// Work-hours Merger - Pipeline Module
// =============================================================================
//
// This module orchestrates a full run, one step after another:
//
// PROCESSING PIPELINE:
//   1. Create the working directories
//   2. Search the input directory for workbooks named with a unit keyword
//   3. Optionally clear the staging directory
//   4. Extract each workbook into a staged JSON document
//   5. Merge the staged documents into output_<unit>.json
//   6. Optionally project each merged document to CSV
//   7. Write the processing summary
//
// A workbook that fails extraction is reported in its Result and the batch
// carries on. Files are processed sequentially; the merge must see every
// staged document of the run.
//
// =============================================================================

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/workhours-merger/internal/aggregator"
	"github.com/ginjaninja78/workhours-merger/internal/config"
	"github.com/ginjaninja78/workhours-merger/internal/csvwriter"
	"github.com/ginjaninja78/workhours-merger/internal/extractor"
	"github.com/ginjaninja78/workhours-merger/internal/validation"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

// SkippedRowsLog is the file in the error directory that collects the rows
// left out of each merge.
const SkippedRowsLog = "skipped_rows.log"

// exportWorkers bounds concurrent CSV exports.
const exportWorkers = 4

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of extracting a single workbook.
type Result struct {
	// FilePath is the workbook that was processed.
	FilePath string

	// StagedFile is the staged JSON document. Empty if extraction failed.
	StagedFile string

	// CopiedFile is the workbook copy in the staging directory, when
	// extract.copy_source is set.
	CopiedFile string

	// Success indicates whether the workbook was staged.
	Success bool

	// Error is set when extraction failed.
	Error error

	Stats ProcessingStats
}

// ProcessingStats contains statistics about one extraction.
type ProcessingStats struct {
	Sheets         int
	Groups         int
	Records        int
	ProcessingTime time.Duration
}

// =============================================================================
// PIPELINE STRUCTURE
// =============================================================================

// Pipeline runs the extraction and merge steps for one configuration.
type Pipeline struct {
	cfg   *config.Config
	files *utils.FileManager
}

// New creates a Pipeline for cfg.
func New(cfg *config.Config) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		files: utils.NewFileManager(cfg.InputDir, cfg.StagingDir, cfg.OutputDir, cfg.ErrorDir),
	}
}

// Config returns the configuration the pipeline was built with.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// Aggregator builds the aggregator for the configured directories.
func (p *Pipeline) Aggregator() *aggregator.Aggregator {
	return &aggregator.Aggregator{
		Resolver:   p.cfg.Resolver(),
		Fields:     p.cfg.Merge.FieldNames,
		NullPolicy: p.cfg.NullPolicy(),
		Shape:      p.cfg.OutputShape(),
		StagingDir: p.cfg.StagingDir,
		OutputDir:  p.cfg.OutputDir,
	}
}

// =============================================================================
// STEPS
// =============================================================================

// Search returns the workbooks under the input directory whose name
// contains a keyword, as paths joined onto the input directory.
func (p *Pipeline) Search(ctx context.Context) ([]string, error) {
	rel, err := p.files.SearchFiles(p.cfg.Keywords, p.cfg.SearchMaxDepth, utils.WorkbookExtensions...)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(rel))
	for i, r := range rel {
		files[i] = filepath.Join(p.cfg.InputDir, r)
	}
	zerolog.Ctx(ctx).Info().Int("files", len(files)).Str("dir", p.cfg.InputDir).Msg("workbook search complete")
	return files, nil
}

// ClearStaging empties the staging directory.
func (p *Pipeline) ClearStaging(ctx context.Context) (int, error) {
	n, err := utils.ClearFolder(p.cfg.StagingDir)
	if err != nil {
		return n, err
	}
	zerolog.Ctx(ctx).Info().Int("removed", n).Str("dir", p.cfg.StagingDir).Msg("staging directory cleared")
	return n, nil
}

// ExtractAll stages every workbook in files. A failing workbook does not
// stop the others; its Result carries the error. Cancelling ctx stops
// before the next workbook.
func (p *Pipeline) ExtractAll(ctx context.Context, files []string) []Result {
	results := make([]Result, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			results = append(results, Result{FilePath: file, Error: err})
			continue
		}
		results = append(results, p.extractOne(ctx, file))
	}
	return results
}

func (p *Pipeline) extractOne(ctx context.Context, file string) Result {
	start := time.Now()
	result := Result{FilePath: file}
	opts := extractor.Options{
		GroupHeader:         p.cfg.Extract.GroupHeader,
		SkipGroupHeaderRows: p.cfg.Extract.SkipGroupHeaderRows,
	}

	doc, err := extractor.Extract(ctx, file, opts)
	if err != nil {
		result.Error = err
		return result
	}
	staged, err := extractor.WriteStaged(ctx, doc, file, p.cfg.InputDir, p.cfg.StagingDir)
	if err != nil {
		result.Error = err
		return result
	}
	result.StagedFile = staged

	if p.cfg.Extract.CopySource {
		copied, err := utils.CopyToStaging(file, p.cfg.InputDir, p.cfg.StagingDir)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("workbook", file).Msg("failed to copy workbook to staging")
		} else {
			result.CopiedFile = copied
		}
	}

	for _, sheet := range doc.Sheets {
		result.Stats.Groups += len(sheet.Groups)
	}
	result.Stats.Sheets = len(doc.Sheets)
	result.Stats.Records = doc.RecordCount()
	result.Stats.ProcessingTime = time.Since(start)
	result.Success = true
	return result
}

// Merge aggregates the staging directory, writes the merged documents and
// appends the skipped rows to the error directory.
func (p *Pipeline) Merge(ctx context.Context) (*aggregator.Result, map[string]string, error) {
	agg := p.Aggregator()
	result, err := agg.Collect(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := p.files.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	outputs := agg.Persist(ctx, result)

	if len(result.Skipped) > 0 && p.cfg.ErrorDir != "" {
		logPath := filepath.Join(p.cfg.ErrorDir, SkippedRowsLog)
		if err := validation.WriteErrorLog(result.Skipped, logPath); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to write skipped rows log")
		}
	}
	return result, outputs, nil
}

// Export projects each merged document to output_<unit>.csv next to it.
// A unit without rows, or one that fails, is logged and left out.
func (p *Pipeline) Export(ctx context.Context, outputs map[string]string, opts csvwriter.Options) map[string]string {
	logger := zerolog.Ctx(ctx)
	exports := make(map[string]string, len(outputs))

	// Units write disjoint files, so they are exported in parallel.
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(exportWorkers)

	for _, unit := range p.cfg.Resolver().Keywords() {
		merged, ok := outputs[unit]
		if !ok {
			continue
		}
		g.Go(func() error {
			csvPath := filepath.Join(filepath.Dir(merged), csvwriter.FileName(merged))
			n, err := csvwriter.WriteFile(merged, csvPath, opts)
			if errors.Is(err, csvwriter.ErrNoRows) {
				logger.Info().Str("unit", unit).Msg("no rows to export")
				return nil
			}
			if err != nil {
				logger.Error().Err(err).Str("unit", unit).Msg("csv export failed")
				return nil
			}

			mu.Lock()
			exports[unit] = csvPath
			mu.Unlock()
			logger.Info().Str("unit", unit).Int("rows", n).Str("path", csvPath).Msg("csv written")
			return nil
		})
	}
	g.Wait()
	return exports
}

// ExportOptions returns the CSV options from the configuration.
func (p *Pipeline) ExportOptions() csvwriter.Options {
	return csvwriter.Options{
		Encoding: p.cfg.Export.Encoding,
		BOM:      p.cfg.Export.BOM,
		Filter:   p.cfg.Export.Filter,
	}
}

// =============================================================================
// FULL RUN
// =============================================================================

// Run executes the whole pipeline and writes the processing summary into
// the error directory.
func (p *Pipeline) Run(ctx context.Context, runID string) (*utils.ProcessingSummary, error) {
	logger := zerolog.Ctx(ctx)
	summary := &utils.ProcessingSummary{RunID: runID, StartTime: time.Now()}

	// =========================================================================
	// STEP 1: DIRECTORIES AND DISCOVERY
	// =========================================================================

	if err := p.files.EnsureDirectories(); err != nil {
		return nil, err
	}

	files, err := p.Search(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to search input directory: %w", err)
	}
	summary.FilesFound = len(files)

	if p.cfg.Extract.ClearStaging {
		if _, err := p.ClearStaging(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear staging directory: %w", err)
		}
	}

	// =========================================================================
	// STEP 2: EXTRACT
	// =========================================================================

	for _, r := range p.ExtractAll(ctx, files) {
		if r.Success {
			summary.Extracted++
			continue
		}
		summary.FailedFiles = append(summary.FailedFiles, utils.FailedFileInfo{
			InputFile:    r.FilePath,
			ErrorMessage: r.Error.Error(),
		})
		logger.Error().Err(r.Error).Str("workbook", r.FilePath).Msg("extraction failed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// =========================================================================
	// STEP 3: MERGE
	// =========================================================================

	merged, outputs, err := p.Merge(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to merge staged documents: %w", err)
	}
	summary.StagedFiles = merged.Stats.FilesSeen
	summary.SkippedFiles = merged.Stats.FilesSkipped
	summary.MalformedDocs = merged.Stats.FilesMalformed
	summary.MergedRecords = merged.RecordCount()
	summary.SkippedRows = merged.Stats.RowsSkipped
	summary.Outputs = outputs

	// =========================================================================
	// STEP 4: EXPORT
	// =========================================================================

	if p.cfg.Export.Enabled {
		summary.Exports = p.Export(ctx, outputs, p.ExportOptions())
	}

	// =========================================================================
	// COMPLETE
	// =========================================================================

	summary.EndTime = time.Now()
	if p.cfg.ErrorDir != "" {
		path, err := utils.WriteSummaryLog(*summary, p.cfg.ErrorDir)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to write processing summary")
		} else {
			logger.Debug().Str("path", path).Msg("processing summary written")
		}
	}

	logger.Info().
		Int("found", summary.FilesFound).
		Int("extracted", summary.Extracted).
		Int("failed", len(summary.FailedFiles)).
		Int("merged_records", summary.MergedRecords).
		Dur("elapsed", summary.EndTime.Sub(summary.StartTime)).
		Msg("run complete")
	return summary, nil
}
