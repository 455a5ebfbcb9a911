// =============================================================================
// Work-hours Merger - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. Every subcommand
// shares the configuration and logger set up here.
//
// COBRA CLI STRUCTURE:
//   rootCmd (workhours)
//   ├── searchCmd  (workhours search)
//   ├── extractCmd (workhours extract [files...])
//   ├── mergeCmd   (workhours merge)
//   ├── exportCmd  (workhours export)
//   ├── runCmd     (workhours run)
//   ├── serveCmd   (workhours serve)
//   ├── configCmd  (workhours config show)
//   └── versionCmd (workhours version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Global flags (--config, --verbose)
//   2. Loading the configuration through viper (config.Load)
//   3. Building the zerolog logger and the per-run context
//
// =============================================================================

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/workhours-merger/internal/config"
	"github.com/ginjaninja78/workhours-merger/internal/logging"
	"github.com/ginjaninja78/workhours-merger/internal/pipeline"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// appConfig and appLogger are set by PersistentPreRunE.
var (
	appConfig *config.Config
	appLogger zerolog.Logger
	logCloser io.Closer
)

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "workhours",
	Short: "Work-hours merger - extract work-hour workbooks and merge them per unit",
	Long: `workhours turns work-hour workbooks into grouped JSON documents and merges
them into one document per unit (person or team).

Workflow:
  1. Workbooks whose filename contains a unit keyword are found under input_dir
  2. Each workbook is extracted into staging_dir as <path_flattened>.json,
     with rows filed under the group heading above them
  3. Staged documents are merged per unit: rows with the same
     (group, order number, supplement) are combined, hours summed and
     contributing files listed in merged_files
  4. output_<unit>.json (and optionally output_<unit>.csv) land in output_dir

Example Usage:
  workhours run                       # search, extract, merge (and export)
  workhours extract In/plan_金子.xlsx  # stage specific workbooks
  workhours merge                     # merge whatever is staged
  workhours serve                     # expose the pipeline over HTTP`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initApp(cmd)
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context. This is called by main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := executeContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// executeContext runs the root command and closes the log file afterwards,
// including when the command fails. PersistentPostRun is skipped on error.
func executeContext(ctx context.Context) error {
	defer closeLog()
	return rootCmd.ExecuteContext(ctx)
}

func closeLog() {
	if logCloser != nil {
		logCloser.Close()
		logCloser = nil
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the configuration file; a missing default file means built-in defaults",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// initApp loads the configuration and builds the logger.
func initApp(cmd *cobra.Command) error {
	path := cfgFile
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if verbose {
		cfg.LogLevel = "debug"
	}

	logger, closer, err := logging.New(logging.Options{
		Level:    cfg.LogLevel,
		FilePath: cfg.LogFile(),
	})
	if err != nil {
		return err
	}

	appConfig = cfg
	appLogger = logger
	logCloser = closer
	return nil
}

// runContext returns the command context carrying a logger tagged with a
// fresh run ID.
func runContext(cmd *cobra.Command) (context.Context, string) {
	runID := utils.NewRunID()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return logging.WithRun(ctx, appLogger, runID), runID
}

// newPipeline builds the pipeline for the loaded configuration.
func newPipeline() *pipeline.Pipeline {
	return pipeline.New(appConfig)
}
