package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// =============================================================================
// COMPOSITE KEY
// =============================================================================

// CompositeKey identifies mergeable line items within a unit. Two records
// are the same line item iff all three trimmed values are equal.
type CompositeKey struct {
	Group      string
	OrderNo    string
	Supplement string
}

// String renders the key for logs.
func (k CompositeKey) String() string {
	return fmt.Sprintf("(%s, %s, %s)", k.Group, k.OrderNo, k.Supplement)
}

// =============================================================================
// OUTPUT SHAPE
// =============================================================================

// OutputShape selects how a merged document is rendered.
type OutputShape string

const (
	// ShapeFlat renders [ {record}, ... ].
	ShapeFlat OutputShape = "flat"

	// ShapeGrouped renders { "<group>": [ {record}, ... ] }, partitioned by
	// the first element of the composite key.
	ShapeGrouped OutputShape = "grouped"
)

// ParseOutputShape validates a configured shape name.
func ParseOutputShape(s string) (OutputShape, error) {
	switch OutputShape(strings.ToLower(strings.TrimSpace(s))) {
	case ShapeFlat, "":
		return ShapeFlat, nil
	case ShapeGrouped:
		return ShapeGrouped, nil
	default:
		return "", fmt.Errorf("unknown output shape %q (want flat or grouped)", s)
	}
}

// =============================================================================
// MERGED DOCUMENT
// =============================================================================

// MergedDocument accumulates the merged records of one unit.
type MergedDocument struct {
	Unit  string
	Shape OutputShape

	order   []CompositeKey
	records map[CompositeKey]*Record
}

// NewMergedDocument returns an empty document for unit.
func NewMergedDocument(unit string, shape OutputShape) *MergedDocument {
	return &MergedDocument{
		Unit:    unit,
		Shape:   shape,
		records: make(map[CompositeKey]*Record),
	}
}

// Lookup returns the merged record stored under key.
func (m *MergedDocument) Lookup(key CompositeKey) (*Record, bool) {
	rec, ok := m.records[key]
	return rec, ok
}

// Insert stores rec under a key that has not been seen before.
func (m *MergedDocument) Insert(key CompositeKey, rec *Record) {
	if _, ok := m.records[key]; !ok {
		m.order = append(m.order, key)
	}
	m.records[key] = rec
}

// Len returns the number of distinct composite keys.
func (m *MergedDocument) Len() int {
	return len(m.order)
}

// Keys returns the composite keys in first-seen order.
func (m *MergedDocument) Keys() []CompositeKey {
	out := make([]CompositeKey, len(m.order))
	copy(out, m.order)
	return out
}

// Records returns the merged records in first-seen order.
func (m *MergedDocument) Records() []*Record {
	out := make([]*Record, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, m.records[k])
	}
	return out
}

// Grouped partitions the records by the key's group element, groups in
// first-seen order.
func (m *MergedDocument) Grouped() []*Group {
	var groups []*Group
	index := make(map[string]*Group)
	for _, k := range m.order {
		g, ok := index[k.Group]
		if !ok {
			g = &Group{Name: k.Group}
			index[k.Group] = g
			groups = append(groups, g)
		}
		g.Records = append(g.Records, m.records[k])
	}
	return groups
}

// MarshalJSON renders the document in its configured shape.
func (m *MergedDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if m.Shape == ShapeGrouped {
		buf.WriteByte('{')
		for i, g := range m.Grouped() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, g.Name); err != nil {
				return nil, err
			}
			if err := writeRecords(&buf, g.Records); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	}
	if err := writeRecords(&buf, m.Records()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeMergedRecords reads a merged document in either shape and returns
// its records in file order together with the shape found.
func DecodeMergedRecords(r io.Reader) ([]*Record, OutputShape, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	var (
		records []*Record
		shape   OutputShape
	)
	switch tok {
	case json.Delim('['):
		shape = ShapeFlat
		if records, err = readRecordList(dec); err != nil {
			return nil, "", err
		}
	case json.Delim('{'):
		shape = ShapeGrouped
		for dec.More() {
			group, err := readKey(dec)
			if err != nil {
				return nil, "", err
			}
			if err := expectShape(dec, '[', "group "+group); err != nil {
				return nil, "", err
			}
			list, err := readRecordList(dec)
			if err != nil {
				return nil, "", err
			}
			records = append(records, list...)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, "", err
		}
	default:
		return nil, "", fmt.Errorf("%w: expected array or object, got %v", ErrUnexpectedShape, tok)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("%w: trailing data after document", ErrUnexpectedShape)
	}
	return records, shape, nil
}

// readRecordList reads records up to and including the closing ']'.
func readRecordList(dec *json.Decoder) ([]*Record, error) {
	var records []*Record
	for dec.More() {
		rec, err := decodeRecord(dec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
		}
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	return records, nil
}

// =============================================================================
// UNIT RESOLUTION
// =============================================================================

// UnitResolver maps staged filenames to units using an ordered keyword list.
type UnitResolver struct {
	keywords []string
}

// NewUnitResolver returns a resolver over keywords, in priority order.
// Empty keywords are dropped since they would match every filename.
func NewUnitResolver(keywords []string) *UnitResolver {
	kept := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw != "" {
			kept = append(kept, kw)
		}
	}
	return &UnitResolver{keywords: kept}
}

// Resolve returns the first keyword contained in filename.
func (u *UnitResolver) Resolve(filename string) (string, bool) {
	for _, kw := range u.keywords {
		if strings.Contains(filename, kw) {
			return kw, true
		}
	}
	return "", false
}

// Keywords returns the configured keywords in priority order.
func (u *UnitResolver) Keywords() []string {
	out := make([]string, len(u.keywords))
	copy(out, u.keywords)
	return out
}
