package extractor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
)

// readSheet returns every row of the sheet as typed cell values, each row
// padded to the widest row. Row 0 is spreadsheet row 1.
func readSheet(f *excelize.File, sheet string) ([][]any, error) {
	formatted, err := f.GetRows(sheet)
	if err != nil {
		return nil, err
	}
	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}

	height := max(len(formatted), len(raw))
	width := 0
	for r := 0; r < height; r++ {
		width = max(width, len(rowAt(formatted, r)), len(rowAt(raw, r)))
	}

	formats := newDateFormats(f)
	rows := make([][]any, height)
	for r := 0; r < height; r++ {
		row := make([]any, width)
		fr, rr := rowAt(formatted, r), rowAt(raw, r)
		for c := 0; c < width; c++ {
			display, value := cellText(fr, c), cellText(rr, c)
			if display == "" && value == "" {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			cellType, err := f.GetCellType(sheet, name)
			if err != nil {
				return nil, fmt.Errorf("cell %s: %w", name, err)
			}
			dated := false
			if holdsNumber(cellType) {
				if dated, err = formats.isDate(sheet, name); err != nil {
					return nil, fmt.Errorf("cell %s: %w", name, err)
				}
			}
			row[c] = cellValue(value, display, cellType, dated)
		}
		rows[r] = row
	}
	return rows, nil
}

// rowAt returns rows[r], or nil past the end.
func rowAt(rows [][]string, r int) []string {
	if r < len(rows) {
		return rows[r]
	}
	return nil
}

func cellText(row []string, c int) string {
	if c < len(row) {
		return row[c]
	}
	return ""
}

// cellValue converts one cell. raw is the stored value (formula results are
// the cached value), display is the formatted text. dated is set when the
// cell's number format renders a date or time; only then does the display
// text replace a numeric value.
func cellValue(raw, display string, cellType excelize.CellType, dated bool) any {
	switch cellType {
	case excelize.CellTypeBool:
		switch strings.ToUpper(strings.TrimSpace(raw)) {
		case "1", "TRUE":
			return true
		case "0", "FALSE":
			return false
		}
		return firstNonEmpty(raw, display)
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeError:
		return firstNonEmpty(raw, display)
	case excelize.CellTypeDate:
		return firstNonEmpty(display, raw)
	case excelize.CellTypeFormula:
		// Cached formula results are stored as text. Only a canonical
		// number literal is read back as a number, so "001" stays text.
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || strconv.FormatFloat(f, 'f', -1, 64) != raw {
			return firstNonEmpty(raw, display)
		}
		if dated && display != "" {
			return display
		}
		return json.Number(raw)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return firstNonEmpty(raw, display)
	}
	if dated && display != "" {
		return display
	}
	return json.Number(strconv.FormatFloat(f, 'f', -1, 64))
}

// holdsNumber reports whether a cell of this type may store a serial number
// whose meaning depends on its number format.
func holdsNumber(cellType excelize.CellType) bool {
	switch cellType {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeFormula:
		return true
	}
	return false
}

// =============================================================================
// NUMBER FORMATS
// =============================================================================

// dateFormats remembers, per style index, whether the style's number format
// renders dates or times.
type dateFormats struct {
	f      *excelize.File
	styles map[int]bool
}

func newDateFormats(f *excelize.File) *dateFormats {
	return &dateFormats{f: f, styles: make(map[int]bool)}
}

func (d *dateFormats) isDate(sheet, cell string) (bool, error) {
	idx, err := d.f.GetCellStyle(sheet, cell)
	if err != nil {
		return false, err
	}
	if dated, ok := d.styles[idx]; ok {
		return dated, nil
	}

	// Workbooks written without a style part have no format to consult.
	style, err := d.f.GetStyle(idx)
	if err != nil {
		d.styles[idx] = false
		return false, nil
	}
	dated := false
	if style.CustomNumFmt != nil && *style.CustomNumFmt != "" {
		dated = isDateFormatCode(*style.CustomNumFmt)
	} else {
		dated = isBuiltInDateFormat(style.NumFmt)
	}
	d.styles[idx] = dated
	return dated, nil
}

// isBuiltInDateFormat reports whether a built-in number format id is a date
// or time format, including the East Asian date ids.
func isBuiltInDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22,
		id >= 27 && id <= 36,
		id >= 45 && id <= 47,
		id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode reports whether a custom format code contains date or
// time tokens outside quoted literals, escapes and bracketed modifiers.
// Elapsed-time brackets such as [h] count as time.
func isDateFormatCode(code string) bool {
	runes := []rune(code)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '"':
			for i++; i < len(runes) && runes[i] != '"'; i++ {
			}
		case '\\', '_', '*':
			i++
		case '[':
			end := i + 1
			for end < len(runes) && runes[end] != ']' {
				end++
			}
			inner := strings.ToLower(string(runes[i+1 : min(end, len(runes))]))
			if strings.Trim(inner, "hms") == "" && inner != "" {
				return true
			}
			i = end
		default:
			switch unicode.ToLower(r) {
			case 'y', 'm', 'd', 'h', 's':
				return true
			}
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// =============================================================================
// ROW HELPERS
// =============================================================================

// headerNames renders the header row as strings; empty cells become "".
func headerNames(row []any) []string {
	headers := make([]string, len(row))
	for i, v := range row {
		if v != nil {
			headers[i] = groupName(v)
		}
	}
	return headers
}

// cellAt returns row[i], or nil past the end.
func cellAt(row []any, i int) any {
	if i >= 0 && i < len(row) {
		return row[i]
	}
	return nil
}

// isRowEmpty checks if every cell of the row is null.
func isRowEmpty(row []any) bool {
	for _, cell := range row {
		if cell != nil {
			return false
		}
	}
	return true
}

// isBlank reports whether a group cell leaves the carried group unchanged.
func isBlank(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

// onlyCellSet reports whether every cell other than idx is null.
func onlyCellSet(row []any, idx int) bool {
	for i, cell := range row {
		if i != idx && cell != nil {
			return false
		}
	}
	return true
}

// groupName is the document key for a group cell value.
func groupName(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
