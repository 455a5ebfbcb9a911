// =============================================================================
// Work-hours Merger - Configuration Module
// =============================================================================
//
// This module loads the application configuration. Values come from, in
// increasing priority:
//   1. Built-in defaults (applyDefaults)
//   2. The YAML config file (--config, default config.yaml)
//   3. Environment variables prefixed with WORKHOURS_, with nested keys
//      joined by "_" (e.g. WORKHOURS_MERGE_NULL_NUMERIC=zero)
//
// The keyword list is configuration, never package state: callers pass the
// loaded Config (or a types.UnitResolver built from it) explicitly.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/workhours-merger/internal/csvwriter"
	"github.com/ginjaninja78/workhours-merger/internal/logging"
	"github.com/ginjaninja78/workhours-merger/internal/types"
	"github.com/ginjaninja78/workhours-merger/internal/validation"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "WORKHOURS"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the application configuration.
type Config struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is searched for workbooks whose name contains a keyword.
	// Default: "./In"
	InputDir string `mapstructure:"input_dir" yaml:"input_dir" validate:"required"`

	// StagingDir holds one grouped JSON document per extracted workbook.
	// Default: "./Tmp"
	StagingDir string `mapstructure:"staging_dir" yaml:"staging_dir" validate:"required"`

	// OutputDir receives output_<unit>.json and the CSV projections.
	// Default: "./Out"
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir" validate:"required"`

	// ErrorDir receives error.log.
	// Default: "./Err"
	ErrorDir string `mapstructure:"error_dir" yaml:"error_dir" validate:"required"`

	// =========================================================================
	// UNIT SETTINGS
	// =========================================================================

	// Keywords select the unit of a staged file: the first keyword found in
	// the filename wins. Order matters.
	Keywords []string `mapstructure:"keywords" yaml:"keywords" validate:"keywords"`

	// SearchMaxDepth limits how many directory levels below InputDir the
	// workbook search descends.
	// Default: 3
	SearchMaxDepth int `mapstructure:"search_max_depth" yaml:"search_max_depth" validate:"gte=0"`

	// LogLevel is one of debug, info, warn, error.
	// Default: "info"
	LogLevel string `mapstructure:"log_level" yaml:"log_level" validate:"log_level"`

	Extract ExtractConfig `mapstructure:"extract" yaml:"extract"`
	Merge   MergeConfig   `mapstructure:"merge" yaml:"merge"`
	Export  ExportConfig  `mapstructure:"export" yaml:"export"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
}

// ExtractConfig controls workbook extraction.
type ExtractConfig struct {
	// GroupHeader is the header naming the group column. When no header
	// matches, column A is used.
	GroupHeader string `mapstructure:"group_header" yaml:"group_header"`

	// SkipGroupHeaderRows drops rows whose only non-empty cell is the group
	// cell. The group still carries forward.
	SkipGroupHeaderRows bool `mapstructure:"skip_group_header_rows" yaml:"skip_group_header_rows"`

	// CopySource copies each workbook into the staging directory next to its
	// JSON document, under the same flattened name.
	CopySource bool `mapstructure:"copy_source" yaml:"copy_source"`

	// ClearStaging empties the staging directory before a full run.
	ClearStaging bool `mapstructure:"clear_staging" yaml:"clear_staging"`
}

// MergeConfig controls aggregation.
type MergeConfig struct {
	types.FieldNames `mapstructure:",squash" yaml:",inline"`

	// NullNumeric is "skip" or "zero".
	NullNumeric string `mapstructure:"null_numeric" yaml:"null_numeric" validate:"null_policy"`

	// OutputShape is "flat" or "grouped".
	OutputShape string `mapstructure:"output_shape" yaml:"output_shape" validate:"output_shape"`
}

// ExportConfig controls the CSV projection of merged documents.
type ExportConfig struct {
	// Enabled writes output_<unit>.csv after each full run.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Encoding is "utf-8" or "shift_jis".
	Encoding string `mapstructure:"encoding" yaml:"encoding" validate:"csv_encoding"`

	// BOM prefixes UTF-8 output with a byte order mark for Excel.
	BOM bool `mapstructure:"bom" yaml:"bom"`

	// Filter is an optional boolean expression evaluated per record; rows
	// for which it is false are not exported. Example: `時間 > 0`.
	Filter string `mapstructure:"filter" yaml:"filter" validate:"omitempty,record_filter"`
}

// ServerConfig controls the HTTP service.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from configPath. An empty path loads defaults
// and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Merge.Group == "" {
		cfg.Merge.Group = cfg.Extract.GroupHeader
	}
	cfg.Merge.FieldNames = cfg.Merge.FieldNames.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Load("")
	if err != nil {
		// Defaults are static and always valid.
		panic(err)
	}
	return cfg
}

// applyDefaults registers every key so environment overrides apply.
func applyDefaults(v *viper.Viper) {
	fields := types.DefaultFieldNames()

	v.SetDefault("input_dir", "./In")
	v.SetDefault("staging_dir", "./Tmp")
	v.SetDefault("output_dir", "./Out")
	v.SetDefault("error_dir", "./Err")
	v.SetDefault("keywords", []string{"金子", "本間"})
	v.SetDefault("search_max_depth", 3)
	v.SetDefault("log_level", "info")

	v.SetDefault("extract.group_header", types.DefaultGroupField)
	v.SetDefault("extract.skip_group_header_rows", false)
	v.SetDefault("extract.copy_source", false)
	v.SetDefault("extract.clear_staging", false)

	// Empty follows extract.group_header.
	v.SetDefault("merge.group_field", "")
	v.SetDefault("merge.order_field", fields.OrderNo)
	v.SetDefault("merge.supplement_field", fields.Supplement)
	v.SetDefault("merge.numeric_field", fields.Numeric)
	v.SetDefault("merge.null_numeric", string(validation.NullSkip))
	v.SetDefault("merge.output_shape", string(types.ShapeFlat))

	v.SetDefault("export.enabled", false)
	v.SetDefault("export.encoding", "utf-8")
	v.SetDefault("export.bom", false)
	v.SetDefault("export.filter", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks values that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// validate carries the config-specific rules. Field names in its errors are
// the YAML keys.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v.RegisterValidation("keywords", func(fl validator.FieldLevel) bool {
		keywords, ok := fl.Field().Interface().([]string)
		return ok && len(types.NewUnitResolver(keywords).Keywords()) > 0
	})
	v.RegisterValidation("log_level", parses(func(s string) error {
		_, err := logging.ParseLevel(s)
		return err
	}))
	v.RegisterValidation("null_policy", parses(func(s string) error {
		_, err := validation.ParseNullPolicy(s)
		return err
	}))
	v.RegisterValidation("output_shape", parses(func(s string) error {
		_, err := types.ParseOutputShape(s)
		return err
	}))
	v.RegisterValidation("csv_encoding", parses(func(s string) error {
		_, err := csvwriter.NormalizeEncoding(s)
		return err
	}))
	v.RegisterValidation("record_filter", parses(csvwriter.CheckFilter))
	v.RegisterStructValidation(groupFieldMatchesHeader, Config{})

	return v
}

// groupFieldMatchesHeader rejects a merge key that differs from the field
// extraction writes the group into.
func groupFieldMatchesHeader(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	header := c.Extract.GroupHeader
	if header == "" {
		header = types.DefaultGroupField
	}
	if c.Merge.Group != header {
		sl.ReportError(c.Merge.Group, "merge.group_field", "Group", "group_header", header)
	}
}

// parses adapts a string parser to a validator.Func.
func parses(parse func(string) error) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return parse(fl.Field().String()) == nil
	}
}

func describe(fe validator.FieldError) string {
	key := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", key)
	case "gte":
		return fmt.Sprintf("%s must not be negative", key)
	case "keywords":
		return fmt.Sprintf("%s must contain at least one non-empty entry", key)
	case "group_header":
		return fmt.Sprintf("%s %q must match extract.group_header %q", key, fe.Value(), fe.Param())
	case "record_filter":
		return fmt.Sprintf("%s is not a valid expression: %q", key, fe.Value())
	default:
		return fmt.Sprintf("%s: unsupported value %q", key, fe.Value())
	}
}

// =============================================================================
// DERIVED VALUES
// =============================================================================

// LogFile is the path of the error log.
func (c *Config) LogFile() string {
	return filepath.Join(c.ErrorDir, "error.log")
}

// Resolver builds the unit resolver from the keyword list.
func (c *Config) Resolver() *types.UnitResolver {
	return types.NewUnitResolver(c.Keywords)
}

// NullPolicy returns the parsed null numeric policy.
func (c *Config) NullPolicy() validation.NullPolicy {
	p, _ := validation.ParseNullPolicy(c.Merge.NullNumeric)
	return p
}

// OutputShape returns the parsed output shape.
func (c *Config) OutputShape() types.OutputShape {
	s, _ := types.ParseOutputShape(c.Merge.OutputShape)
	return s
}

// Dump writes the effective configuration as YAML.
func (c *Config) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}
