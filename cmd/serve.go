// =============================================================================
// Work-hours Merger - Serve Command
// =============================================================================
//
// COMMAND USAGE:
//   workhours serve [--addr :8080]
//
// ENDPOINTS:
//   GET    /healthz
//   GET    /api/v1/search
//   POST   /api/v1/extract        {"files": [...], "clear": false}
//   POST   /api/v1/merge
//   GET    /api/v1/outputs/{unit}
//   DELETE /api/v1/staging
//
// Requests that touch the staging directory are serialized, so a merge
// always reads one consistent set of staged documents.
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/workhours-merger/internal/server"
	"github.com/ginjaninja78/workhours-merger/pkg/utils"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if cmd.Flags().Changed("addr") {
			cfg.Server.Addr = serveAddr
		}

		fm := utils.NewFileManager(cfg.InputDir, cfg.StagingDir, cfg.OutputDir, cfg.ErrorDir)
		if err := fm.EnsureDirectories(); err != nil {
			return err
		}

		api := server.NewWebAPI(server.Config{
			Addr:            cfg.Server.Addr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
			StagingDir:      cfg.StagingDir,
			OutputDir:       cfg.OutputDir,
			Keywords:        cfg.Resolver().Keywords(),
			Dependencies: server.Dependencies{
				Pipeline: newPipeline(),
				Logger:   appLogger,
			},
		})
		return api.Start(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
}
