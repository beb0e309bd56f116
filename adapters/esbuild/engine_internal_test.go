package esbuild

import (
	"reflect"
	"sort"
	"testing"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/previewkit/kiln/domain/build"
)

func TestTargetFor(t *testing.T) {
	tests := []struct {
		name     string
		expected api.Target
	}{
		{"es2015", api.ES2015},
		{"es2020", api.ES2020},
		{"ES2022", api.ES2022},
		{"esnext", api.ESNext},
		{"", api.ES2020},
		{"es5", api.ES2020},
	}

	for _, tt := range tests {
		if got := targetFor(tt.name); got != tt.expected {
			t.Errorf("targetFor(%q) = %v, want %v", tt.name, got, tt.expected)
		}
	}
}

func TestLoaderFor(t *testing.T) {
	tests := []struct {
		loader   build.Loader
		expected api.Loader
	}{
		{build.LoaderTS, api.LoaderTS},
		{build.LoaderTSX, api.LoaderTSX},
		{build.LoaderJSX, api.LoaderJSX},
		{build.LoaderJSON, api.LoaderJSON},
		{build.LoaderCSS, api.LoaderCSS},
		{build.LoaderJS, api.LoaderJS},
		{build.Loader("unknown"), api.LoaderJS},
	}

	for _, tt := range tests {
		if got := loaderFor(tt.loader); got != tt.expected {
			t.Errorf("loaderFor(%q) = %v, want %v", tt.loader, got, tt.expected)
		}
	}
}

func TestPartition(t *testing.T) {
	files := []api.OutputFile{
		{Path: "/out/index.js", Contents: []byte("console.log(1);")},
		{Path: "/out/index.css", Contents: []byte(".a{}")},
		{Path: "/out/index.js.map", Contents: []byte("{}")},
	}

	js, css := partition(files)
	if js != "console.log(1);" {
		t.Errorf("js = %q", js)
	}
	if css != ".a{}" {
		t.Errorf("css = %q", css)
	}
}

func TestImportsFromMetafile(t *testing.T) {
	meta := `{
		"inputs": {
			"virtual:/index.tsx": {
				"bytes": 120,
				"imports": [
					{"path": "virtual:/app.css", "kind": "import-statement"},
					{"path": "physical:/lib/util/index.js", "kind": "import-statement"},
					{"path": "shim:react/jsx-runtime", "kind": "import-statement"},
					{"path": "https://cdn.example.com/x.js", "kind": "import-statement", "external": true}
				]
			},
			"virtual:/app.css": {"bytes": 40, "imports": []}
		}
	}`

	imports := importsFromMetafile(meta)
	if len(imports) != 2 {
		t.Fatalf("len(imports) = %d, want 2", len(imports))
	}

	deps := imports["/index.tsx"]
	sort.Strings(deps)
	want := []string{
		"/app.css",
		"/lib/util/index.js",
		"https://cdn.example.com/x.js",
		"react/jsx-runtime",
	}
	if !reflect.DeepEqual(deps, want) {
		t.Errorf("deps = %v, want %v", deps, want)
	}
	if got := imports["/app.css"]; len(got) != 0 {
		t.Errorf("leaf imports = %v, want none", got)
	}
}

func TestImportsFromMetafile_Invalid(t *testing.T) {
	if got := importsFromMetafile(""); got != nil {
		t.Errorf("empty metafile = %v, want nil", got)
	}
	if got := importsFromMetafile("{not json"); got != nil {
		t.Errorf("malformed metafile = %v, want nil", got)
	}
}

func TestStripNamespace(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"virtual:/index.tsx", "/index.tsx"},
		{"physical:/lib/react/index.js", "/lib/react/index.js"},
		{"shim:react/jsx-runtime", "react/jsx-runtime"},
		{"/plain/path.ts", "/plain/path.ts"},
		{"https://cdn.example.com/x.js", "https://cdn.example.com/x.js"},
	}

	for _, tt := range tests {
		if got := stripNamespace(tt.key); got != tt.expected {
			t.Errorf("stripNamespace(%q) = %q, want %q", tt.key, got, tt.expected)
		}
	}
}

func TestMessageError(t *testing.T) {
	msg := api.Message{
		Text: "Unexpected token",
		Location: &api.Location{
			File:   "virtual:/src/app.tsx",
			Line:   3,
			Column: 7,
		},
	}

	berr := messageError(msg)
	if berr.Title != "Build failed" {
		t.Errorf("Title = %q", berr.Title)
	}
	if berr.Message != "Unexpected token" {
		t.Errorf("Message = %q", berr.Message)
	}
	if berr.File != "/src/app.tsx" {
		t.Errorf("File = %q, want /src/app.tsx", berr.File)
	}
	if berr.Line != 3 || berr.Column != 7 {
		t.Errorf("Line:Column = %d:%d, want 3:7", berr.Line, berr.Column)
	}
}

func TestMessageError_NoLocation(t *testing.T) {
	berr := messageError(api.Message{Text: "out of memory"})
	if berr.File != "" || berr.Line != 0 {
		t.Errorf("location = %q:%d, want empty", berr.File, berr.Line)
	}
}
