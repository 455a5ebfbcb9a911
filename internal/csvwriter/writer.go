// =============================================================================
// Work-hours Merger - CSV Projection
// =============================================================================
//
// This module flattens a merged document (flat or grouped) into a CSV file
// for spreadsheet users.
//
// OUTPUT FORMAT:
//   - Header row: field names of the first record, in field order
//   - One row per record; a field missing from a record is written empty
//   - merged_files is joined with ", "
//   - Integral sums keep their ".0" (4.0) so the CSV matches the JSON
//
// FILTER:
//   Options.Filter is an expression evaluated against each record, with the
//   record's fields as variables. Numeric fields are float64. Records for
//   which it is false are not written. Example:
//
//     時間 > 0 && グループ != "UNDEFINED"
//
// =============================================================================

package csvwriter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/workhours-merger/internal/types"
)

// ErrNoRows is returned when there is nothing to write. No file is created.
var ErrNoRows = errors.New("no rows to export")

// Supported encodings.
const (
	EncodingUTF8     = "utf-8"
	EncodingShiftJIS = "shift_jis"
)

// Options controls the CSV projection.
type Options struct {
	// Encoding is "utf-8" (default) or "shift_jis".
	Encoding string

	// BOM prefixes UTF-8 output with a byte order mark.
	BOM bool

	// Filter is an optional boolean expression over the record fields.
	Filter string
}

// NormalizeEncoding maps accepted spellings onto the encoding constants.
func NormalizeEncoding(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utf-8", "utf8":
		return EncodingUTF8, nil
	case "shift_jis", "shift-jis", "sjis":
		return EncodingShiftJIS, nil
	default:
		return "", fmt.Errorf("unsupported encoding %q", name)
	}
}

// FileName is the CSV name next to a merged document: output_<unit>.csv.
func FileName(mergedPath string) string {
	base := filepath.Base(mergedPath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".csv"
}

// =============================================================================
// EXPORT
// =============================================================================

// WriteFile reads the merged document at mergedPath and writes csvPath.
// It returns the number of data rows written.
func WriteFile(mergedPath, csvPath string, opts Options) (int, error) {
	f, err := os.Open(mergedPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open merged document: %w", err)
	}
	records, _, err := types.DecodeMergedRecords(f)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", filepath.Base(mergedPath), err)
	}

	var buf bytes.Buffer
	n, err := Write(&buf, records, opts)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(csvPath, buf.Bytes(), 0644); err != nil {
		return 0, fmt.Errorf("failed to write %s: %w", csvPath, err)
	}
	return n, nil
}

// Write renders records as CSV into w.
func Write(w io.Writer, records []*types.Record, opts Options) (int, error) {
	enc, err := NormalizeEncoding(opts.Encoding)
	if err != nil {
		return 0, err
	}

	rows := records
	if opts.Filter != "" {
		rows = rows[:0:0]
		for i, rec := range records {
			ok, err := defaultFilter.match(opts.Filter, rec)
			if err != nil {
				return 0, fmt.Errorf("record %d: %w", i, err)
			}
			if ok {
				rows = append(rows, rec)
			}
		}
	}
	if len(rows) == 0 {
		return 0, ErrNoRows
	}

	out := w
	var closer io.Closer
	switch enc {
	case EncodingShiftJIS:
		tw := transform.NewWriter(w, encoding.ReplaceUnsupported(japanese.ShiftJIS.NewEncoder()))
		out, closer = tw, tw
	default:
		if opts.BOM {
			if _, err := io.WriteString(w, "\ufeff"); err != nil {
				return 0, err
			}
		}
	}

	cw := csv.NewWriter(out)
	headers := rows[0].Keys()
	if err := cw.Write(headers); err != nil {
		return 0, err
	}
	line := make([]string, len(headers))
	for _, rec := range rows {
		for i, h := range headers {
			v, _ := rec.Get(h)
			line[i] = cellString(v)
		}
		if err := cw.Write(line); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to write csv: %w", err)
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			return 0, fmt.Errorf("failed to encode csv: %w", err)
		}
	}
	return len(rows), nil
}

// cellString renders one field value as CSV text.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	case json.Number:
		return val.String()
	case float64:
		b, err := types.FormatFloat(val)
		if err != nil {
			return strconv.FormatFloat(val, 'g', -1, 64)
		}
		return string(b)
	case bool:
		if val {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(val)
	}
}

// =============================================================================
// FILTER
// =============================================================================

// recordFilter compiles filter expressions once and reuses the program.
type recordFilter struct {
	cache sync.Map // expression -> *vm.Program
}

var defaultFilter = &recordFilter{}

// CheckFilter reports whether expression compiles. An empty expression is
// valid and exports every record.
func CheckFilter(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	if _, err := defaultFilter.compile(expression); err != nil {
		return fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return nil
}

func (f *recordFilter) match(expression string, rec *types.Record) (bool, error) {
	program, err := f.compile(expression)
	if err != nil {
		return false, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	result, err := expr.Run(program, filterEnv(rec))
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", expression, err)
	}
	switch b := result.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	default:
		return false, fmt.Errorf("filter %q evaluated to %T, expected bool", expression, result)
	}
}

func (f *recordFilter) compile(expression string) (*vm.Program, error) {
	if cached, ok := f.cache.Load(expression); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	f.cache.Store(expression, program)
	return program, nil
}

// filterEnv exposes the record to expressions. Numbers become float64 so
// comparisons against literals behave as expected.
func filterEnv(rec *types.Record) map[string]any {
	env := rec.Map()
	for k, v := range env {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				env[k] = f
			}
		}
	}
	return env
}
