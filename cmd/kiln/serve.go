package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/previewkit/kiln/bootstrap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preview server",
	Long: `Start the kiln preview server.

The server will:
  - Load configuration from kiln.yaml (or --config)
  - Or load configuration from KILN_* environment variables
  - Open the workspace store (sqlite or memory)
  - Accept host channels on /channel and compile submitted module sets
  - Serve the assembled document at /preview

Environment variables (for Docker deployments):
  KILN_SERVER_PORT       - Server port (default: 7420)
  KILN_STORAGE_DRIVER    - Workspace store: sqlite or memory
  KILN_STORAGE_DSN       - Workspace database path (default: kiln.db)
  KILN_BUILD_TARGET      - Syntax target (default: es2020)
  KILN_LOG_LEVEL         - Log level: debug, info, warn, error
  KILN_METRICS_ENABLED   - Enable the /metrics endpoint

Examples:
  kiln serve
  kiln serve --config /etc/kiln/config.yaml

  # Docker (env vars only):
  KILN_STORAGE_DRIVER=memory kiln serve`,
	RunE: runServe,
}

var serveHotReload bool

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveHotReload, "hot-reload", true, "reload logging and build settings when the config file changes")
}

func runServe(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfgFile); err != nil {
		fmt.Println("Running with environment variables (no config file)")
	}

	app, err := bootstrap.NewWithOptions(bootstrap.Options{
		ConfigPath: cfgFile,
		HotReload:  serveHotReload,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
