package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/previewkit/kiln/adapters/clock"
	"github.com/previewkit/kiln/adapters/esbuild"
	"github.com/previewkit/kiln/adapters/idgen"
	"github.com/previewkit/kiln/adapters/osfs"
	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/config"
	"github.com/previewkit/kiln/domain/build"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Bundle a directory into a single preview document",
	Long: `Build a workspace directory into one self-contained HTML document.

The entry module is discovered the same way the server discovers it:
a package.json main/module field, an HTML template's first local script,
then conventional entry names.

Examples:
  kiln build
  kiln build --dir ./my-app --out dist/index.html
  kiln build --minify --target es2022
  kiln build --watch`,
	RunE: runBuild,
}

var (
	buildDir         string
	buildOut         string
	buildTarget      string
	buildMinify      bool
	buildDevelopment bool
	buildWatch       bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVar(&buildDir, "dir", ".", "workspace directory to build")
	buildCmd.Flags().StringVar(&buildOut, "out", "dist/index.html", "output document path")
	buildCmd.Flags().StringVar(&buildTarget, "target", "", "syntax target (default from config)")
	buildCmd.Flags().BoolVar(&buildMinify, "minify", false, "minify bundled output")
	buildCmd.Flags().BoolVar(&buildDevelopment, "development", false, "development JSX runtime")
	buildCmd.Flags().BoolVar(&buildWatch, "watch", false, "rebuild on file changes")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// Flags override the config file.
	if cmd.Flags().Changed("target") {
		cfg.Build.Target = buildTarget
	}
	if cmd.Flags().Changed("minify") {
		cfg.Build.Minify = buildMinify
	}
	if cmd.Flags().Changed("development") {
		cfg.Build.Development = buildDevelopment
	}

	store, err := osfs.New(buildDir)
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

	opts := build.Options{
		Target:      cfg.Build.Target,
		Minify:      cfg.Build.Minify,
		Development: cfg.Build.Development,
	}
	svc.Submit(build.CompileJob{Options: opts})

	if !buildWatch {
		res, berr := awaitDone(events)
		if berr != nil {
			return berr
		}
		if err := writeDocument(buildOut, res); err != nil {
			return err
		}
		fmt.Printf("%s Built %s (%d modules, %d bytes js, %d bytes css)\n",
			checkMark, buildOut, res.Stats.Modules, res.Stats.JSBytes, res.Stats.CSSBytes)
		return nil
	}

	return watchAndRebuild(svc, store.Root(), events, opts)
}

func watchAndRebuild(svc *app.BuildService, root string, events <-chan app.Event, opts build.Options) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watchTree(watcher, root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", root)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var debounce <-chan time.Time
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			rel, rerr := filepath.Rel(root, ev.Name)
			if rerr != nil || watchSkipped(rel) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Watch directories as they appear.
			if ev.Op&fsnotify.Create != 0 {
				if info, serr := os.Stat(ev.Name); serr == nil && info.IsDir() {
					watcher.Add(ev.Name)
				}
			}
			// Editors fire bursts of events per save; one rebuild per burst.
			debounce = time.After(300 * time.Millisecond)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)

		case <-debounce:
			debounce = nil
			svc.Submit(build.CompileJob{Options: opts})

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.Kind != app.EventDone {
				continue
			}
			if ev.Err != nil {
				fmt.Fprintf(os.Stderr, "%s %v\n", crossMark, ev.Err)
				continue
			}
			if err := writeDocument(buildOut, ev.Result); err != nil {
				return err
			}
			fmt.Printf("%s Built %s (%d modules)\n", checkMark, buildOut, ev.Result.Stats.Modules)

		case <-quit:
			fmt.Println()
			return nil
		}
	}
}

// watchTree watches every directory under root except dependency and VCS
// trees.
func watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, rerr := filepath.Rel(root, path); rerr == nil && rel != "." && watchSkipped(rel) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func watchSkipped(rel string) bool {
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		if seg == "node_modules" || seg == ".git" {
			return true
		}
	}
	return false
}

// awaitDone blocks until the submitted job reports done.
func awaitDone(events <-chan app.Event) (*build.Result, *build.Error) {
	for ev := range events {
		if ev.Kind == app.EventDone {
			return ev.Result, ev.Err
		}
	}
	return nil, build.Errf("Build interrupted", "the build service stopped before reporting a result")
}

func writeDocument(path string, res *build.Result) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, []byte(res.HTML), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// cliLogger keeps service logging out of the command output; warnings and
// errors still reach stderr.
func cliLogger() zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(output).With().Timestamp().Logger().Level(zerolog.WarnLevel)
}
