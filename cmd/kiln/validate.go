package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/previewkit/kiln/adapters/sqlite"
	"github.com/previewkit/kiln/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration before deployment",
	Long: `Validate the kiln configuration file.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Workspace database is writable (optional)
  - External runtime URLs are reachable (optional)

Examples:
  kiln validate
  kiln validate --config /etc/kiln/kiln.yaml --check-database`,
	RunE: runValidate,
}

var (
	validateCheckDatabase  bool
	validateCheckExternals bool
)

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if the workspace database is writable")
	validateCmd.Flags().BoolVar(&validateCheckExternals, "check-externals", false, "check if external runtime URLs are reachable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	// Check file exists
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		fmt.Printf("  %s Config file exists\n", crossMark)
		return fmt.Errorf("config file not found: %s", cfgFile)
	}
	fmt.Printf("  %s Config file exists\n", checkMark)

	// Load and validate config
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Printf("  %s Config syntax valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config syntax valid\n", checkMark)

	// Show config summary
	fmt.Printf("  %s Storage: %s (%s)\n", checkMark, cfg.Storage.DSN, cfg.Storage.Driver)
	fmt.Printf("  %s Build target: %s\n", checkMark, cfg.Build.Target)
	fmt.Printf("  %s Externals configured: %d\n", checkMark, len(cfg.Build.Externals))
	fmt.Printf("  %s Logging: %s (%s)\n", checkMark, cfg.Logging.Level, cfg.Logging.Format)

	// Optional: check database
	if validateCheckDatabase {
		if cfg.Storage.Driver != "sqlite" {
			fmt.Printf("  %s Database check skipped (driver %s)\n", checkMark, cfg.Storage.Driver)
		} else if err := checkDatabaseWritable(cfg.Storage.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	// Optional: check externals
	if validateCheckExternals {
		for _, u := range cfg.Build.Externals {
			if err := checkURLReachable(u); err != nil {
				fmt.Printf("  %s Reachable: %s\n", crossMark, u)
				fmt.Printf("      Error: %v\n", err)
			} else {
				fmt.Printf("  %s Reachable: %s\n", checkMark, u)
			}
		}
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkURLReachable(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "HEAD", url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return nil
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)
