package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
}

func TestSearchFiles_KeywordsDepthAndExtensions(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "plan_金子.xlsx"))
	touch(t, filepath.Join(root, "notes_金子.txt"))
	touch(t, filepath.Join(root, "misc.xlsx"))
	touch(t, filepath.Join(root, "~$plan_金子.xlsx"))
	touch(t, filepath.Join(root, "a", "b", "c", "actual_本間.XLSX"))
	touch(t, filepath.Join(root, "a", "b", "c", "d", "deep_金子.xlsx"))

	fm := NewFileManager(root, "", "", "")

	files, err := fm.SearchFiles([]string{"金子", "本間"}, 3, WorkbookExtensions...)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("a", "b", "c", "actual_本間.XLSX"),
		"plan_金子.xlsx",
	}, files)

	all, err := fm.SearchFiles([]string{"金子"}, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"notes_金子.txt", "plan_金子.xlsx"}, all)
}

func TestSearchFiles_MissingRoot(t *testing.T) {
	fm := NewFileManager(filepath.Join(t.TempDir(), "nope"), "", "", "")
	_, err := fm.SearchFiles([]string{"金子"}, 3)
	assert.Error(t, err)
}

func TestStagedName(t *testing.T) {
	base := filepath.Join("In")
	assert.Equal(t, "2024_05_plan_金子.json",
		StagedName(filepath.Join("In", "2024", "05", "plan_金子.xlsx"), base))
	assert.Equal(t, "plan_金子.json", StagedName(filepath.Join("In", "plan_金子.xlsx"), base))
	assert.Equal(t, "x_金子.json", StagedName(filepath.Join("Other", "x_金子.xlsx"), base))
	assert.Equal(t, "solo_金子.json", StagedName("solo_金子.xlsx", ""))
}

func TestCopyToStaging(t *testing.T) {
	root := t.TempDir()
	src := filepath.Join(root, "In", "sub", "plan_金子.xlsx")
	touch(t, src)

	dest, err := CopyToStaging(src, filepath.Join(root, "In"), filepath.Join(root, "Tmp"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Tmp", "sub_plan_金子.xlsx"), dest)
	assert.True(t, FileExists(dest))
}

func TestClearFolder(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "a.json"))
	touch(t, filepath.Join(dir, "nested", "b.json"))

	n, err := ClearFolder(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err = ClearFolder(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager(filepath.Join(root, "In"), filepath.Join(root, "Tmp"), filepath.Join(root, "Out"), "")
	require.NoError(t, fm.EnsureDirectories())
	for _, d := range []string{"In", "Tmp", "Out"} {
		assert.DirExists(t, filepath.Join(root, d))
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestWriteSummaryLog(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	summary := ProcessingSummary{
		RunID:       "run-1",
		StartTime:   start,
		EndTime:     start.Add(2 * time.Second),
		FilesFound:  3,
		Extracted:   2,
		FailedFiles: []FailedFileInfo{{InputFile: "bad_金子.xlsx", ErrorMessage: "corrupt"}},
		Outputs:     map[string]string{"金子": "Out/output_金子.json"},
	}

	path, err := WriteSummaryLog(summary, dir)
	require.NoError(t, err)
	assert.Equal(t, "processing_summary_20261018_090002.txt", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Run ID:         run-1")
	assert.Contains(t, text, "bad_金子.xlsx")
	assert.True(t, strings.Contains(text, "Out/output_金子.json"))
}
