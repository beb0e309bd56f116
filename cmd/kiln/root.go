package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kiln",
	Short: "In-browser compile pipeline for virtual module workspaces",
	Long: `Kiln compiles module sets submitted over a websocket channel into
self-contained preview documents.

A host page connects to /channel, registers a channel identifier and
submits compile requests; kiln resolves each import against the submitted
modules first and the stored workspace second, bundles the result and
serves the assembled document at /preview.

Quick start:
  kiln init      # Create kiln.yaml and the workspace database
  kiln serve     # Start the preview server

One-shot builds:
  kiln build     # Bundle a directory into a single document
  kiln graph     # Render a build's module graph as DOT`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "kiln.yaml", "config file path")
}
