package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_SetKeepsFirstPosition(t *testing.T) {
	r := NewRecord()
	r.Set("b", "1")
	r.Set("a", "2")
	r.Set("b", "3")

	assert.Equal(t, []string{"b", "a"}, r.Keys())
	v, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRecord_JSONPreservesOrderAndNumbers(t *testing.T) {
	in := `{"時間":2.50,"グループ":"A","指図書No":1,"補足":null,"merged_files":["x.json"]}`

	var r Record
	require.NoError(t, json.Unmarshal([]byte(in), &r))
	assert.Equal(t, []string{"時間", "グループ", "指図書No", "補足", "merged_files"}, r.Keys())

	v, _ := r.Get("時間")
	assert.Equal(t, json.Number("2.50"), v)
	files, _ := r.Get("merged_files")
	assert.Equal(t, []string{"x.json"}, files)

	out, err := json.Marshal(&r)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
	assert.True(t, strings.HasPrefix(string(out), `{"時間":2.50,`))
}

func TestRecord_MarshalDoesNotEscapeHTML(t *testing.T) {
	r := NewRecord()
	r.Set("note", "a<b & c>d")

	out, err := r.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"note":"a<b & c>d"}`, string(out))
}

func TestRecord_CloneIsIndependent(t *testing.T) {
	r := NewRecord()
	r.Set(MergedFilesField, []string{"a.json"})

	c := r.Clone()
	files, _ := c.Get(MergedFilesField)
	files.([]string)[0] = "changed"
	c.Set("extra", 1)

	orig, _ := r.Get(MergedFilesField)
	assert.Equal(t, []string{"a.json"}, orig)
	assert.False(t, r.Has("extra"))
}

func TestFormatFloat(t *testing.T) {
	// Summed at run time; a constant expression would fold to exactly 0.3.
	tenth, fifth := 0.1, 0.2
	tests := []struct {
		in   float64
		want string
	}{
		{4, "4.0"},
		{2.5, "2.5"},
		{0, "0.0"},
		{-3, "-3.0"},
		{tenth + fifth, "0.30000000000000004"},
		{1e21, "1e+21"},
	}
	for _, tt := range tests {
		got, err := FormatFloat(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, string(got))
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "A", KeyString("  A "))
	assert.Equal(t, "1", KeyString(json.Number("1")))
	assert.Equal(t, "2.0", KeyString(json.Number("2.0")))
	assert.Equal(t, "", KeyString(nil))
	assert.Equal(t, "True", KeyString(true))
	assert.Equal(t, "4.0", KeyString(4.0))
}

func TestDecodeGroupedDocument(t *testing.T) {
	in := `{"Sheet2":{"B":[{"x":1}],"A":[]},"Sheet1":{}}`

	doc, err := DecodeGroupedDocument(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, doc.Sheets, 2)
	assert.Equal(t, "Sheet2", doc.Sheets[0].Name)
	assert.Equal(t, "B", doc.Sheets[0].Groups[0].Name)
	assert.Equal(t, "A", doc.Sheets[0].Groups[1].Name)
	assert.Equal(t, 1, doc.RecordCount())

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, in, string(out))
}

func TestDecodeGroupedDocument_RepeatedKeysReplace(t *testing.T) {
	doc, err := DecodeGroupedDocument(strings.NewReader(`{
		"S1": {"A": [{"時間": 2}], "B": [{"時間": 1}], "A": [{"時間": 3}]},
		"S2": {"X": [{"時間": 9}]},
		"S1": {"A": [{"時間": 4}]}
	}`))
	require.NoError(t, err)

	require.Len(t, doc.Sheets, 2)
	assert.Equal(t, "S1", doc.Sheets[0].Name)
	assert.Equal(t, "S2", doc.Sheets[1].Name)

	s1 := doc.Sheet("S1")
	require.Len(t, s1.Groups, 1)
	require.Len(t, s1.Group("A").Records, 1)
	v, _ := s1.Group("A").Records[0].Get("時間")
	assert.Equal(t, json.Number("4"), v)

	doc, err = DecodeGroupedDocument(strings.NewReader(`{"S": {"A": [{"時間": 2}], "B": [], "A": [{"時間": 3}]}}`))
	require.NoError(t, err)
	s := doc.Sheet("S")
	require.Len(t, s.Groups, 2)
	assert.Equal(t, "A", s.Groups[0].Name)
	assert.Equal(t, 1, doc.RecordCount())
	v, _ = s.Group("A").Records[0].Get("時間")
	assert.Equal(t, json.Number("3"), v)
}

func TestDecodeGroupedDocument_RejectsOtherShapes(t *testing.T) {
	bad := []string{
		`[]`,
		`{"Sheet1":[]}`,
		`{"Sheet1":{"A":{}}}`,
		`{"Sheet1":{"A":[1]}}`,
		`{"Sheet1":{"A":[{"x":1}]}} {}`,
		`{"Sheet1":`,
		``,
	}
	for _, in := range bad {
		_, err := DecodeGroupedDocument(strings.NewReader(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestMergedDocument_Shapes(t *testing.T) {
	m := NewMergedDocument("金子", ShapeFlat)
	for _, k := range []CompositeKey{{"B", "1", ""}, {"A", "2", ""}, {"B", "3", ""}} {
		r := NewRecord()
		r.Set("no", k.OrderNo)
		m.Insert(k, r)
	}

	flat, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `[{"no":"1"},{"no":"2"},{"no":"3"}]`, string(flat))

	m.Shape = ShapeGrouped
	grouped, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `{"B":[{"no":"1"},{"no":"3"}],"A":[{"no":"2"}]}`, string(grouped))
}

func TestParseOutputShape(t *testing.T) {
	s, err := ParseOutputShape("Grouped")
	require.NoError(t, err)
	assert.Equal(t, ShapeGrouped, s)

	s, err = ParseOutputShape("")
	require.NoError(t, err)
	assert.Equal(t, ShapeFlat, s)

	_, err = ParseOutputShape("tree")
	assert.Error(t, err)
}

func TestUnitResolver_FirstKeywordWins(t *testing.T) {
	u := NewUnitResolver([]string{"金子", "本間", ""})

	unit, ok := u.Resolve("plan_本間_金子.json")
	require.True(t, ok)
	assert.Equal(t, "金子", unit)

	_, ok = u.Resolve("misc_report.json")
	assert.False(t, ok)
	assert.Equal(t, []string{"金子", "本間"}, u.Keywords())
}

func TestDecodeMergedRecords_BothShapes(t *testing.T) {
	flat := `[{"a":1,"merged_files":["x.json"]},{"a":2}]`
	recs, shape, err := DecodeMergedRecords(strings.NewReader(flat))
	require.NoError(t, err)
	assert.Equal(t, ShapeFlat, shape)
	require.Len(t, recs, 2)
	files, _ := recs[0].Get(MergedFilesField)
	assert.Equal(t, []string{"x.json"}, files)

	grouped := `{"B":[{"a":1}],"A":[{"a":2},{"a":3}]}`
	recs, shape, err = DecodeMergedRecords(strings.NewReader(grouped))
	require.NoError(t, err)
	assert.Equal(t, ShapeGrouped, shape)
	require.Len(t, recs, 3)
	v, _ := recs[2].Get("a")
	assert.Equal(t, json.Number("3"), v)

	for _, bad := range []string{`1`, `{"A":{}}`, `[1]`, `[] []`} {
		_, _, err := DecodeMergedRecords(strings.NewReader(bad))
		assert.ErrorIs(t, err, ErrUnexpectedShape, "input %q", bad)
	}
}
