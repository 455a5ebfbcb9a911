package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// GROUPED DOCUMENT
// =============================================================================

// GroupedDocument is the extraction output of one workbook:
// sheet name -> group name -> records, all in first-seen order.
//
// JSON form: { "<sheet>": { "<group>": [ {record}, ... ] } }
type GroupedDocument struct {
	Sheets []*Sheet
}

// Sheet holds the groups of one worksheet.
type Sheet struct {
	Name   string
	Groups []*Group
}

// Group holds the records carried under one group heading.
type Group struct {
	Name    string
	Records []*Record
}

// AddSheet appends an empty sheet and returns it.
func (d *GroupedDocument) AddSheet(name string) *Sheet {
	s := &Sheet{Name: name, Groups: []*Group{}}
	d.Sheets = append(d.Sheets, s)
	return s
}

// Sheet returns the sheet with the given name, or nil.
func (d *GroupedDocument) Sheet(name string) *Sheet {
	for _, s := range d.Sheets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// RecordCount returns the number of records across all sheets and groups.
func (d *GroupedDocument) RecordCount() int {
	n := 0
	for _, s := range d.Sheets {
		for _, g := range s.Groups {
			n += len(g.Records)
		}
	}
	return n
}

// Group returns the named group, or nil.
func (s *Sheet) Group(name string) *Group {
	for _, g := range s.Groups {
		if g.Name == name {
			return g
		}
	}
	return nil
}

// Append adds rec to the named group, creating the group on first use.
func (s *Sheet) Append(group string, rec *Record) {
	g := s.Group(group)
	if g == nil {
		g = &Group{Name: group}
		s.Groups = append(s.Groups, g)
	}
	g.Records = append(g.Records, rec)
}

// MarshalJSON writes the document as nested objects in order.
func (d *GroupedDocument) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range d.Sheets {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, s.Name); err != nil {
			return nil, err
		}
		buf.WriteByte('{')
		for j, g := range s.Groups {
			if j > 0 {
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
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ErrUnexpectedShape is returned when a staged document is valid JSON but
// not a sheet -> group -> records structure.
var ErrUnexpectedShape = errors.New("unexpected document shape")

// UnmarshalJSON reads a staged document, rejecting any other shape.
func (d *GroupedDocument) UnmarshalJSON(data []byte) error {
	doc, err := DecodeGroupedDocument(bytes.NewReader(data))
	if err != nil {
		return err
	}
	*d = *doc
	return nil
}

// DecodeGroupedDocument reads a staged document from r.
func DecodeGroupedDocument(r io.Reader) (*GroupedDocument, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	if err := expectShape(dec, '{', "document"); err != nil {
		return nil, err
	}
	doc := &GroupedDocument{}
	for dec.More() {
		name, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		// A repeated key replaces the earlier value and keeps its position.
		sheet := doc.Sheet(name)
		if sheet == nil {
			sheet = doc.AddSheet(name)
		} else {
			sheet.Groups = []*Group{}
		}
		if err := expectShape(dec, '{', "sheet "+name); err != nil {
			return nil, err
		}
		for dec.More() {
			group, err := readKey(dec)
			if err != nil {
				return nil, err
			}
			if err := expectShape(dec, '[', "group "+group); err != nil {
				return nil, err
			}
			g := sheet.Group(group)
			if g == nil {
				g = &Group{Name: group}
				sheet.Groups = append(sheet.Groups, g)
			}
			g.Records = []*Record{}
			for dec.More() {
				rec, err := decodeRecord(dec)
				if err != nil {
					return nil, fmt.Errorf("%w: group %s: %v", ErrUnexpectedShape, group, err)
				}
				g.Records = append(g.Records, rec)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after document", ErrUnexpectedShape)
	}
	return doc, nil
}

func expectShape(dec *json.Decoder, want json.Delim, what string) error {
	if err := expectDelim(dec, want); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnexpectedShape, what, err)
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected object key, got %v", ErrUnexpectedShape, tok)
	}
	return key, nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	kb, err := marshalNoEscape(key)
	if err != nil {
		return err
	}
	buf.Write(kb)
	buf.WriteByte(':')
	return nil
}

func writeRecords(buf *bytes.Buffer, records []*Record) error {
	buf.WriteByte('[')
	for i, rec := range records {
		if i > 0 {
			buf.WriteByte(',')
		}
		rb, err := rec.MarshalJSON()
		if err != nil {
			return err
		}
		buf.Write(rb)
	}
	buf.WriteByte(']')
	return nil
}
