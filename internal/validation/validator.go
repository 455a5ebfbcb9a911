// =============================================================================
// Work-hours Merger - Record Validation
// =============================================================================
//
// This module checks staged records before they enter the merge:
//   - Composite key presence (group, order number, supplement)
//   - Numeric field conversion for the summed hours column
//
// ERROR HANDLING:
//   - A failing row is reported as a *ValidationError and skipped by the
//     caller; it never aborts the batch.
//   - Errors are collected per run so the CLI can print a summary and
//     append a report to the error folder.
//   - errors.Is works against ErrIncompleteRecord and ErrInvalidNumericField.
//
// =============================================================================

package validation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ginjaninja78/workhours-merger/internal/types"
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

var (
	// ErrIncompleteRecord marks a row missing one of the composite key fields.
	ErrIncompleteRecord = errors.New("incomplete record")

	// ErrInvalidNumericField marks a row whose numeric field cannot be summed.
	ErrInvalidNumericField = errors.New("invalid numeric field")
)

// Rule names used in ValidationError.Rule.
const (
	RuleIncompleteRecord = "incomplete_record"
	RuleInvalidNumeric   = "invalid_numeric"
)

// ValidationError describes one skipped row.
type ValidationError struct {
	// Severity is "warning" for rows that are skipped and logged.
	Severity string

	// Rule is the check that failed.
	Rule string

	// Field is the record field that failed the check.
	Field string

	// Value is the offending value, rendered for display.
	Value string

	// Message is a human-readable explanation.
	Message string

	// File, Sheet, Group and Index locate the row in the staged document.
	File  string
	Sheet string
	Group string
	Index int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	loc := e.File
	if e.Sheet != "" {
		loc = fmt.Sprintf("%s[%s/%s#%d]", e.File, e.Sheet, e.Group, e.Index)
	}
	return fmt.Sprintf("[%s] %s: field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity), loc, e.Field, e.Message, e.Value)
}

// Unwrap maps the rule to its sentinel error.
func (e *ValidationError) Unwrap() error {
	switch e.Rule {
	case RuleIncompleteRecord:
		return ErrIncompleteRecord
	case RuleInvalidNumeric:
		return ErrInvalidNumericField
	default:
		return nil
	}
}

// Locate fills the position fields and returns e.
func (e *ValidationError) Locate(file, sheet, group string, index int) *ValidationError {
	e.File, e.Sheet, e.Group, e.Index = file, sheet, group, index
	return e
}

// =============================================================================
// NULL NUMERIC POLICY
// =============================================================================

// NullPolicy decides what a null numeric field means.
type NullPolicy string

const (
	// NullSkip rejects rows whose numeric field is null.
	NullSkip NullPolicy = "skip"

	// NullZero treats a null numeric field as 0.0.
	NullZero NullPolicy = "zero"
)

// ParseNullPolicy validates a configured policy name.
func ParseNullPolicy(s string) (NullPolicy, error) {
	switch NullPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case NullSkip, "":
		return NullSkip, nil
	case NullZero:
		return NullZero, nil
	default:
		return "", fmt.Errorf("unknown null numeric policy %q (want skip or zero)", s)
	}
}

// =============================================================================
// RECORD CHECKS
// =============================================================================

// CompositeKey extracts the merge identity of rec. A key field that is
// absent from the record fails with ErrIncompleteRecord; a present null is
// accepted and compares as the empty string.
func CompositeKey(rec *types.Record, fields types.FieldNames) (types.CompositeKey, *ValidationError) {
	var parts [3]string
	for i, name := range fields.KeyFields() {
		v, ok := rec.Get(name)
		if !ok {
			return types.CompositeKey{}, &ValidationError{
				Severity: "warning",
				Rule:     RuleIncompleteRecord,
				Field:    name,
				Message:  "required key field is missing",
			}
		}
		parts[i] = types.KeyString(v)
	}
	return types.CompositeKey{Group: parts[0], OrderNo: parts[1], Supplement: parts[2]}, nil
}

// Numeric converts the numeric field of rec to float64. Numbers and numeric
// strings are accepted; NaN and infinities are rejected because they cannot
// be written back as JSON.
func Numeric(rec *types.Record, field string, policy NullPolicy) (float64, *ValidationError) {
	v, ok := rec.Get(field)
	if !ok {
		return 0, invalidNumeric(field, nil, "numeric field is missing")
	}

	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case nil:
		if policy == NullZero {
			return 0, nil
		}
		return 0, invalidNumeric(field, nil, "numeric field is null")
	case json.Number:
		f, err = strconv.ParseFloat(val.String(), 64)
	case float64:
		f = val
	case int:
		f = float64(val)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	default:
		return 0, invalidNumeric(field, v, fmt.Sprintf("unsupported value type %T", v))
	}
	if err != nil {
		return 0, invalidNumeric(field, v, "value is not a number")
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalidNumeric(field, v, "value is not a finite number")
	}
	return f, nil
}

func invalidNumeric(field string, v any, msg string) *ValidationError {
	value := "null"
	if v != nil {
		value = fmt.Sprint(v)
	}
	return &ValidationError{
		Severity: "warning",
		Rule:     RuleInvalidNumeric,
		Field:    field,
		Value:    value,
		Message:  msg,
	}
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats validation errors for display or logging.
func FormatErrors(errs []*ValidationError) string {
	if len(errs) == 0 {
		return "No skipped rows."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%d row(s) skipped:\n\n", len(errs)))
	for i, err := range errs {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// WriteErrorLog appends a timestamped report of errs to filePath.
func WriteErrorLog(errs []*ValidationError, filePath string) error {
	if len(errs) == 0 {
		return nil
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open error log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	fmt.Fprintf(writer, "=== merge run %s ===\n", time.Now().Format("2006-01-02 15:04:05"))
	writer.WriteString(FormatErrors(errs))
	writer.WriteString("\n")
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush error log: %w", err)
	}
	return nil
}
