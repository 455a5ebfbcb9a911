// =============================================================================
// Work-hours Merger - Shared Types
// =============================================================================
//
// This package contains the data model shared by the extractor, the
// aggregator and the CSV writer:
//   - Record          : one spreadsheet data row (ordered header -> value)
//   - GroupedDocument : sheet -> group -> records, one per workbook
//   - CompositeKey    : (group, order number, supplement) merge identity
//   - MergedDocument  : per-unit merged records with provenance
//   - UnitResolver    : filename -> unit via an ordered keyword list
//
// Field order matters for the JSON and CSV outputs, so the containers here
// keep insertion order instead of relying on Go maps.
//
// =============================================================================

package types

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// UndefinedGroup is the group assigned to rows that precede the first
	// non-blank group cell of a sheet.
	UndefinedGroup = "UNDEFINED"

	// MergedFilesField holds the ordered, distinct staged filenames that
	// contributed to a merged record.
	MergedFilesField = "merged_files"

	// DefaultGroupField is the localized "group" header.
	DefaultGroupField = "グループ"

	// DefaultOrderField is the order-number header.
	DefaultOrderField = "指図書No"

	// DefaultSupplementField is the supplement header.
	DefaultSupplementField = "補足"

	// DefaultNumericField is the summed hours header.
	DefaultNumericField = "時間"
)

// =============================================================================
// FIELD NAMES
// =============================================================================

// FieldNames names the record fields the aggregator reads.
type FieldNames struct {
	// Group is the first element of the composite key.
	Group string `mapstructure:"group_field" yaml:"group_field"`

	// OrderNo is the second element of the composite key.
	OrderNo string `mapstructure:"order_field" yaml:"order_field"`

	// Supplement is the third element of the composite key.
	Supplement string `mapstructure:"supplement_field" yaml:"supplement_field"`

	// Numeric is the field summed across contributing records.
	Numeric string `mapstructure:"numeric_field" yaml:"numeric_field"`
}

// DefaultFieldNames returns the field names used by the work-hour sheets.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		Group:      DefaultGroupField,
		OrderNo:    DefaultOrderField,
		Supplement: DefaultSupplementField,
		Numeric:    DefaultNumericField,
	}
}

// WithDefaults fills any empty name with its default.
func (f FieldNames) WithDefaults() FieldNames {
	d := DefaultFieldNames()
	if f.Group == "" {
		f.Group = d.Group
	}
	if f.OrderNo == "" {
		f.OrderNo = d.OrderNo
	}
	if f.Supplement == "" {
		f.Supplement = d.Supplement
	}
	if f.Numeric == "" {
		f.Numeric = d.Numeric
	}
	return f
}

// KeyFields returns the composite key field names in key order.
func (f FieldNames) KeyFields() [3]string {
	return [3]string{f.Group, f.OrderNo, f.Supplement}
}
