package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/previewkit/kiln/adapters/clock"
	"github.com/previewkit/kiln/adapters/esbuild"
	"github.com/previewkit/kiln/adapters/idgen"
	"github.com/previewkit/kiln/adapters/osfs"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/config"
	"github.com/previewkit/kiln/domain/build"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the module dependency graph in DOT format",
	Long: `Build a workspace directory and emit its module import graph as DOT,
suitable for Graphviz:

  kiln graph --dir ./my-app | dot -Tsvg -o graph.svg
  kiln graph --out graph.dot`,
	RunE: runGraph,
}

var (
	graphDir string
	graphOut string
)

func init() {
	rootCmd.AddCommand(graphCmd)

	graphCmd.Flags().StringVar(&graphDir, "dir", ".", "workspace directory to analyze")
	graphCmd.Flags().StringVar(&graphOut, "out", "-", "output path (- for stdout)")
}

func runGraph(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := osfs.New(graphDir)
	if err != nil {
		return err
	}

	logger := cliLogger()
	svc := app.NewBuildService(store, esbuild.New(logger), clock.Real{}, idgen.UUID{}, logger, app.BuildConfig{
		VirtualRoot:   cfg.Build.VirtualPackageRoot,
		LibraryRoot:   cfg.Build.LibraryRoot,
		ExternalURLs:  cfg.Build.Externals,
		PreserveHosts: cfg.Build.PreserveHosts,
		DefaultTarget: cfg.Build.Target,
	})
	defer svc.Stop()

	events, cancel := svc.Subscribe()
	defer cancel()

	svc.Submit(build.CompileJob{Options: build.Options{Target: cfg.Build.Target}})
	res, berr := awaitDone(events)
	if berr != nil {
		return berr
	}

	var w io.Writer = os.Stdout
	if graphOut != "-" {
		f, err := os.Create(graphOut)
		if err != nil {
			return fmt.Errorf("create %s: %w", graphOut, err)
		}
		defer f.Close()
		w = f
	}
	return app.WriteDOT(res, w)
}
