// =============================================================================
// Work-hours Merger - File Manager Utility
// =============================================================================
//
// This module provides the filesystem housekeeping around the pipeline:
//   - Keyword search for workbooks under the input directory
//   - Staging names (relative path flattened into one filename)
//   - Copying workbooks into the staging directory
//   - Clearing a directory while keeping it
//   - Run IDs and the processing summary log
//
// STAGING NAMES:
//   A workbook at <input>/2024/05/plan_金子.xlsx is staged as
//   2024_05_plan_金子.json, so the unit keyword in the original filename
//   survives into the staged filename the aggregator inspects.
//
// =============================================================================

package utils

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkbookExtensions are the spreadsheet formats the extractor reads.
var WorkbookExtensions = []string{".xlsx", ".xlsm"}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the pipeline.
type FileManager struct {
	// InputDir is searched for workbooks.
	InputDir string

	// StagingDir holds staged JSON documents.
	StagingDir string

	// OutputDir holds merged documents and CSV projections.
	OutputDir string

	// ErrorDir holds the error log and processing summaries.
	ErrorDir string
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, stagingDir, outputDir, errorDir string) *FileManager {
	return &FileManager{
		InputDir:   inputDir,
		StagingDir: stagingDir,
		OutputDir:  outputDir,
		ErrorDir:   errorDir,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	dirs := []string{
		fm.InputDir,
		fm.StagingDir,
		fm.OutputDir,
		fm.ErrorDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ClearFolder removes every entry inside dir and keeps dir itself.
// A missing directory is not an error.
func ClearFolder(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	removed := 0
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// SearchFiles returns the paths, relative to InputDir, of files whose name
// contains any keyword. Directories are descended at most maxDepth levels
// below InputDir. When extensions are given, only matching files are
// returned. Excel lock files (~$...) are ignored.
func (fm *FileManager) SearchFiles(keywords []string, maxDepth int, extensions ...string) ([]string, error) {
	if _, err := os.Stat(fm.InputDir); err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		if depth > maxDepth {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, entry := range entries {
			full := filepath.Join(dir, entry.Name())
			if entry.IsDir() {
				walk(full, depth+1)
				continue
			}
			if !matchesName(entry.Name(), keywords, extensions) {
				continue
			}
			rel, err := filepath.Rel(fm.InputDir, full)
			if err != nil {
				rel = full
			}
			files = append(files, rel)
		}
	}
	walk(fm.InputDir, 0)

	sort.Strings(files)
	return files, nil
}

func matchesName(name string, keywords, extensions []string) bool {
	if strings.HasPrefix(name, "~$") {
		return false
	}
	if len(extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		ok := false
		for _, want := range extensions {
			if ext == strings.ToLower(want) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, kw := range keywords {
		if kw != "" && strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// =============================================================================
// STAGING
// =============================================================================

// FlattenName turns the path of file relative to base into a single
// filename: ".." segments are dropped and path separators become "_".
// A file outside base keeps only its base name.
func FlattenName(file, base string) string {
	rel, err := filepath.Rel(base, file)
	if err != nil || base == "" || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(file)
	}
	rel = strings.ReplaceAll(rel, "..", "")
	rel = strings.ReplaceAll(rel, string(os.PathSeparator), "_")
	rel = strings.ReplaceAll(rel, "/", "_")
	rel = strings.ReplaceAll(rel, "\\", "_")
	return strings.TrimLeft(rel, "_")
}

// StagedName is the JSON document name for a workbook.
func StagedName(file, base string) string {
	name := FlattenName(file, base)
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".json"
}

// CopyToStaging copies a workbook into stagingDir under its flattened name
// and returns the destination path.
func CopyToStaging(file, base, stagingDir string) (string, error) {
	if err := os.MkdirAll(stagingDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	dest := filepath.Join(stagingDir, FlattenName(file, base))
	if err := copyFile(file, dest); err != nil {
		return "", fmt.Errorf("failed to copy %s to staging: %w", file, err)
	}
	return dest, nil
}

// =============================================================================
// RUN IDS
// =============================================================================

// NewRunID returns a unique identifier for one pipeline run.
func NewRunID() string {
	return uuid.New().String()
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a processing run.
type ProcessingSummary struct {
	RunID         string
	StartTime     time.Time
	EndTime       time.Time
	FilesFound    int
	Extracted     int
	FailedFiles   []FailedFileInfo
	StagedFiles   int
	SkippedFiles  int
	MalformedDocs int
	MergedRecords int
	SkippedRows   int
	Outputs       map[string]string
	Exports       map[string]string
}

// FailedFileInfo contains information about a workbook that failed.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
}

// WriteSummaryLog writes a processing summary into outputDir.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	timestamp := summary.EndTime.Format("20060102_150405")
	summaryPath := filepath.Join(outputDir, fmt.Sprintf("processing_summary_%s.txt", timestamp))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	duration := summary.EndTime.Sub(summary.StartTime)
	fmt.Fprintf(writer, "Work-hours Merger - Processing Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Statistics:\n"+
		"  Workbooks Found:     %d\n"+
		"  Extracted:           %d\n"+
		"  Failed:              %d\n"+
		"  Staged Documents:    %d\n"+
		"  Without Unit:        %d\n"+
		"  Malformed:           %d\n"+
		"  Merged Records:      %d\n"+
		"  Skipped Rows:        %d\n\n",
		summary.RunID,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String(),
		summary.FilesFound,
		summary.Extracted,
		len(summary.FailedFiles),
		summary.StagedFiles,
		summary.SkippedFiles,
		summary.MalformedDocs,
		summary.MergedRecords,
		summary.SkippedRows)

	writePaths(writer, "Outputs", summary.Outputs)
	writePaths(writer, "CSV Exports", summary.Exports)

	if len(summary.FailedFiles) > 0 {
		writer.WriteString("Failed Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, ff := range summary.FailedFiles {
			fmt.Fprintf(writer, "  File:  %s\n", ff.InputFile)
			fmt.Fprintf(writer, "  Error: %s\n\n", ff.ErrorMessage)
		}
	}

	writer.WriteString("================================================================================\n" +
		"End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}

	return summaryPath, nil
}

// writePaths writes a unit -> path section, units sorted.
func writePaths(writer *bufio.Writer, title string, paths map[string]string) {
	if len(paths) == 0 {
		return
	}
	writer.WriteString(title + ":\n")
	writer.WriteString("--------------------------------------------------------------------------------\n")
	units := make([]string, 0, len(paths))
	for unit := range paths {
		units = append(units, unit)
	}
	sort.Strings(units)
	for _, unit := range units {
		fmt.Fprintf(writer, "  %-10s %s\n", unit, paths[unit])
	}
	writer.WriteString("\n")
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// WriteJSONFile writes v as indented JSON without HTML escaping. The data
// goes to a temporary file first and is renamed into place, so a reader
// listing the directory never sees a partial document.
func WriteJSONFile(path string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move %s into place: %w", path, err)
	}
	return nil
}
