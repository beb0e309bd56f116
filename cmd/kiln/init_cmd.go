package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/previewkit/kiln/adapters/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Interactive setup wizard",
	Long: `Initialize a kiln workspace with an interactive setup wizard.

This will:
  1. Configure the workspace database location
  2. Create an initial configuration file
  3. Create the database and run migrations
  4. Seed a sample React app (optional)

Examples:
  kiln init
  kiln init --non-interactive --seed
  kiln init --config /etc/kiln/kiln.yaml --database /var/lib/kiln/kiln.db`,
	RunE: runInit,
}

var (
	initDatabase       string
	initSeed           bool
	initNonInteractive bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVar(&initDatabase, "database", "kiln.db", "workspace database path")
	initCmd.Flags().BoolVar(&initSeed, "seed", false, "seed a sample React app into the workspace")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "run without prompts")
}

func runInit(cmd *cobra.Command, args []string) error {
	fmt.Println("Welcome to kiln!")
	fmt.Println()

	// Check if config already exists
	if _, err := os.Stat(cfgFile); err == nil {
		fmt.Printf("Configuration file already exists: %s\n", cfgFile)
		if !confirm("Overwrite?") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	reader := bufio.NewReader(os.Stdin)

	// Get database location
	database := initDatabase
	if !initNonInteractive && !cmd.Flags().Changed("database") {
		database = prompt(reader, "Workspace database location", "kiln.db")
	}

	// Seed a sample app?
	seed := initSeed
	if !initNonInteractive && !cmd.Flags().Changed("seed") {
		seed = confirm("Seed a sample React app?")
	}

	// Write config file
	if err := os.WriteFile(cfgFile, []byte(generateConfig(database)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("\n%s Generated %s\n", checkMark, cfgFile)

	// Create database and run migrations
	db, err := sqlite.Open(database)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	fmt.Printf("%s Created workspace database %s\n", checkMark, database)

	if seed {
		if err := seedSampleApp(db); err != nil {
			return fmt.Errorf("failed to seed sample app: %w", err)
		}
		fmt.Printf("%s Seeded sample app (%d files)\n", checkMark, len(sampleApp))
	}

	fmt.Println()
	fmt.Println("Run 'kiln serve' to start the preview server.")
	fmt.Println()
	fmt.Println("Access points:")
	fmt.Println("  Preview:      http://localhost:7420/preview")
	fmt.Println("  Host channel: ws://localhost:7420/channel")
	fmt.Println("  Files API:    http://localhost:7420/api/v1/files")

	return nil
}

func prompt(reader *bufio.Reader, label, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("? %s [%s]: ", label, defaultVal)
	} else {
		fmt.Printf("? %s: ", label)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

func confirm(message string) bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Printf("? %s [y/N]: ", message)
	input, _ := reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

func generateConfig(database string) string {
	return fmt.Sprintf(`# kiln configuration
# Generated by 'kiln init'

server:
  host: "0.0.0.0"
  port: 7420

storage:
  driver: sqlite
  dsn: "%s"

build:
  target: es2020
  minify: false
  development: false
  virtual_package_root: /node_modules
  library_root: /lib
  externals:
    - https://unpkg.com/react@18/umd/react.production.min.js
    - https://unpkg.com/react-dom@18/umd/react-dom.production.min.js

logging:
  level: info
  format: console

metrics:
  enabled: true
`, database)
}

// sampleApp is the seeded starter workspace. It sticks to the import forms
// the preview runtime provides shims for: the automatic JSX runtime and
// react-dom/client.
var sampleApp = []struct {
	path    string
	content string
}{
	{"/index.html", `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <title>kiln sample</title>
  </head>
  <body>
    <div id="root"></div>
    <script type="module" src="./src/main.tsx"></script>
  </body>
</html>
`},
	{"/src/main.tsx", `import { createRoot } from "react-dom/client";
import { App } from "./App";
import "./styles.css";

createRoot(document.getElementById("root")!).render(<App />);
`},
	{"/src/App.tsx", `export function App() {
  return (
    <main>
      <h1>Hello from kiln</h1>
      <p>Edit src/App.tsx and the preview rebuilds.</p>
    </main>
  );
}
`},
	{"/src/styles.css", `body {
  margin: 0;
  font-family: system-ui, sans-serif;
}

main {
  padding: 2rem;
}
`},
}

func seedSampleApp(db *sqlite.DB) error {
	store := sqlite.NewFileStore(db)
	ctx := context.Background()

	for _, f := range sampleApp {
		if err := store.Write(ctx, f.path, []byte(f.content)); err != nil {
			return fmt.Errorf("write %s: %w", f.path, err)
		}
	}
	return nil
}
