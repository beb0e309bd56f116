// Package esbuild adapts the esbuild bundler to the Engine port. The
// bundler runs fully in memory: a single plugin intercepts every resolve
// and load and routes it through the callbacks supplied with the build,
// so the bundler never touches the real filesystem.
package esbuild

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog"

	"github.com/previewkit/kiln/domain/build"
	"github.com/previewkit/kiln/domain/modpath"
	"github.com/previewkit/kiln/ports"
)

// outDir is a synthetic output directory. Nothing is written to it
// (Write is off); it only shapes the paths of the in-memory output files.
const outDir = "/out"

// Engine bundles module graphs with esbuild.
type Engine struct {
	logger zerolog.Logger
}

var _ ports.Engine = (*Engine)(nil)

// New creates an esbuild-backed engine.
func New(logger zerolog.Logger) *Engine {
	return &Engine{logger: logger.With().Str("service", "engine").Logger()}
}

// Build bundles one job's module graph from its entry point. Compile
// failures come back as *build.Error values so the caller can report them
// to the host without treating them as infrastructure faults.
func (e *Engine) Build(ctx context.Context, in ports.EngineInput) (ports.EngineOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.EngineOutput{}, err
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:       []string{in.EntryPoint},
		Bundle:            true,
		Write:             false,
		Outdir:            outDir,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Target:            targetFor(in.Options.Target),
		JSX:               api.JSXAutomatic,
		JSXDev:            in.Options.Development,
		MinifyWhitespace:  in.Options.Minify,
		MinifySyntax:      in.Options.Minify,
		MinifyIdentifiers: in.Options.Minify,
		LogLevel:          api.LogLevelSilent,
		Metafile:          true,
		Plugins:           []api.Plugin{e.plugin(ctx, in)},
	})
	if len(result.Errors) > 0 {
		return ports.EngineOutput{}, messageError(result.Errors[0])
	}

	js, css := partition(result.OutputFiles)
	e.logger.Debug().
		Str("entry", in.EntryPoint).
		Int("js_bytes", len(js)).
		Int("css_bytes", len(css)).
		Msg("bundle produced")

	return ports.EngineOutput{
		JS:      js,
		CSS:     css,
		Imports: importsFromMetafile(result.Metafile),
	}, nil
}

// plugin wires the resolver callbacks into the bundler. Every specifier,
// the entry point included, goes through OnResolve; every non-external
// resolution is loaded back through OnLoad in its namespace.
func (e *Engine) plugin(ctx context.Context, in ports.EngineInput) api.Plugin {
	return api.Plugin{
		Name: "kiln",
		Setup: func(epb api.PluginBuild) {
			epb.OnResolve(api.OnResolveOptions{Filter: ".*"}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveCSSURLToken {
					// url() assets stay external; the preview document
					// fetches them directly.
					return api.OnResolveResult{Path: args.Path, External: true}, nil
				}
				importerDir := modpath.Root
				if args.Importer != "" {
					importerDir = modpath.Dir(args.Importer)
				}
				res, err := in.Resolve(ctx, args.Path, importerDir)
				if err != nil {
					return api.OnResolveResult{}, err
				}
				if res.External {
					return api.OnResolveResult{Path: res.Path, External: true}, nil
				}
				return api.OnResolveResult{Path: res.Path, Namespace: string(res.Namespace)}, nil
			})

			for _, ns := range []build.Namespace{build.NamespaceVirtual, build.NamespacePhysical, build.NamespaceShim} {
				epb.OnLoad(api.OnLoadOptions{Filter: ".*", Namespace: string(ns)}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					mod, err := in.Load(ctx, args.Path, ns)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					contents := mod.Contents
					return api.OnLoadResult{
						Contents:   &contents,
						Loader:     loaderFor(mod.Loader),
						ResolveDir: mod.ResolveDir,
					}, nil
				})
			}
		},
	}
}

// targetFor maps a target name to the esbuild constant. Unknown names fall
// back to ES2020, the default the config layer also applies.
func targetFor(name string) api.Target {
	switch strings.ToLower(name) {
	case "es2015":
		return api.ES2015
	case "es2016":
		return api.ES2016
	case "es2017":
		return api.ES2017
	case "es2018":
		return api.ES2018
	case "es2019":
		return api.ES2019
	case "es2020":
		return api.ES2020
	case "es2021":
		return api.ES2021
	case "es2022":
		return api.ES2022
	case "es2023":
		return api.ES2023
	case "esnext":
		return api.ESNext
	default:
		return api.ES2020
	}
}

func loaderFor(l build.Loader) api.Loader {
	switch l {
	case build.LoaderTS:
		return api.LoaderTS
	case build.LoaderTSX:
		return api.LoaderTSX
	case build.LoaderJSX:
		return api.LoaderJSX
	case build.LoaderJSON:
		return api.LoaderJSON
	case build.LoaderCSS:
		return api.LoaderCSS
	default:
		return api.LoaderJS
	}
}

// partition splits the in-memory output files into the JS and CSS texts.
// esbuild emits at most one of each for a single entry point.
func partition(files []api.OutputFile) (js, css string) {
	var jsb, cssb strings.Builder
	for _, f := range files {
		switch {
		case strings.HasSuffix(f.Path, ".js"):
			jsb.Write(f.Contents)
		case strings.HasSuffix(f.Path, ".css"):
			cssb.Write(f.Contents)
		}
	}
	return jsb.String(), cssb.String()
}

// messageError converts an esbuild diagnostic into a structured build error
// with its source location when one is attached. Locations inside plugin
// namespaces are printed as "virtual:/app.tsx"; the prefix is stripped so
// the host sees the module path it submitted.
func messageError(msg api.Message) *build.Error {
	berr := &build.Error{Title: "Build failed", Message: msg.Text}
	if msg.Location != nil {
		berr.File = stripNamespace(msg.Location.File)
		berr.Line = msg.Location.Line
		berr.Column = msg.Location.Column
	}
	return berr
}

// metafile mirrors the slice of esbuild's JSON metafile the engine reads:
// the per-input import lists that form the module adjacency.
type metafile struct {
	Inputs map[string]metafileInput `json:"inputs"`
}

type metafileInput struct {
	Bytes   int              `json:"bytes"`
	Imports []metafileImport `json:"imports"`
}

type metafileImport struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

// importsFromMetafile parses the metafile into module -> imports. Input
// keys carry a namespace prefix ("virtual:/index.tsx"); those are stripped
// so the adjacency speaks plain module paths.
func importsFromMetafile(data string) map[string][]string {
	if data == "" {
		return nil
	}
	var meta metafile
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil
	}
	imports := make(map[string][]string, len(meta.Inputs))
	for key, input := range meta.Inputs {
		deps := make([]string, 0, len(input.Imports))
		for _, imp := range input.Imports {
			deps = append(deps, stripNamespace(imp.Path))
		}
		imports[stripNamespace(key)] = deps
	}
	return imports
}

func stripNamespace(key string) string {
	for _, ns := range []build.Namespace{build.NamespaceVirtual, build.NamespacePhysical, build.NamespaceShim} {
		if rest, ok := strings.CutPrefix(key, string(ns)+":"); ok {
			return rest
		}
	}
	return key
}
