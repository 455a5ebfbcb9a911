package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/workhours-merger/internal/types"
	"github.com/ginjaninja78/workhours-merger/internal/validation"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "./Tmp", cfg.StagingDir)
	assert.Equal(t, []string{"金子", "本間"}, cfg.Keywords)
	assert.Equal(t, 3, cfg.SearchMaxDepth)
	assert.Equal(t, types.DefaultFieldNames(), cfg.Merge.FieldNames)
	assert.Equal(t, validation.NullSkip, cfg.NullPolicy())
	assert.Equal(t, types.ShapeFlat, cfg.OutputShape())
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, filepath.Join("./Err", "error.log"), cfg.LogFile())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `staging_dir: /data/tmp
keywords: ["本間", "金子"]
extract:
  skip_group_header_rows: true
merge:
  numeric_field: hours
  null_numeric: zero
  output_shape: grouped
export:
  encoding: shift_jis
  filter: "hours > 0"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/tmp", cfg.StagingDir)
	assert.Equal(t, []string{"本間", "金子"}, cfg.Keywords)
	assert.True(t, cfg.Extract.SkipGroupHeaderRows)
	assert.Equal(t, "hours", cfg.Merge.Numeric)
	assert.Equal(t, types.DefaultGroupField, cfg.Merge.Group)
	assert.Equal(t, validation.NullZero, cfg.NullPolicy())
	assert.Equal(t, types.ShapeGrouped, cfg.OutputShape())
	assert.Equal(t, "shift_jis", cfg.Export.Encoding)
	assert.Equal(t, "hours > 0", cfg.Export.Filter)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("WORKHOURS_OUTPUT_DIR", "/srv/out")
	t.Setenv("WORKHOURS_MERGE_OUTPUT_SHAPE", "grouped")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/srv/out", cfg.OutputDir)
	assert.Equal(t, types.ShapeGrouped, cfg.OutputShape())
}

func TestLoad_GroupFieldFollowsGroupHeader(t *testing.T) {
	cfg, err := Load(writeConfig(t, "extract:\n  group_header: 班\n"))
	require.NoError(t, err)
	assert.Equal(t, "班", cfg.Extract.GroupHeader)
	assert.Equal(t, "班", cfg.Merge.Group)

	cfg, err = Load(writeConfig(t, "extract:\n  group_header: 班\nmerge:\n  group_field: 班\n"))
	require.NoError(t, err)
	assert.Equal(t, "班", cfg.Merge.Group)

	_, err = Load(writeConfig(t, "extract:\n  group_header: 班\nmerge:\n  group_field: グループ\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "merge.group_field")
	assert.Contains(t, err.Error(), "extract.group_header")

	_, err = Load(writeConfig(t, "merge:\n  group_field: team\n"))
	assert.Error(t, err)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty keywords", "keywords: []\n"},
		{"blank keywords", "keywords: [\"\"]\n"},
		{"bad policy", "merge:\n  null_numeric: maybe\n"},
		{"bad shape", "merge:\n  output_shape: tree\n"},
		{"bad encoding", "export:\n  encoding: latin1\n"},
		{"negative depth", "search_max_depth: -1\n"},
		{"bad log level", "log_level: chatty\n"},
		{"bad filter", "export:\n  filter: \"時間 >\"\n"},
		{"empty staging dir", "staging_dir: \"\"\n"},
		{"bad yaml", "keywords: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Dump(t *testing.T) {
	cfg := Default()

	var buf bytes.Buffer
	require.NoError(t, cfg.Dump(&buf))

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "./Tmp", decoded["staging_dir"])

	merge, ok := decoded["merge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "時間", merge["numeric_field"])
	assert.Equal(t, "skip", merge["null_numeric"])
}

func TestValidate_NamesYAMLKeys(t *testing.T) {
	cfg := Default()
	cfg.StagingDir = ""
	cfg.Merge.NullNumeric = "maybe"
	cfg.Keywords = []string{""}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging_dir is required")
	assert.Contains(t, err.Error(), `merge.null_numeric: unsupported value "maybe"`)
	assert.Contains(t, err.Error(), "keywords must contain at least one non-empty entry")
}
