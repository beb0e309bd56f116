package app_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/previewkit/kiln/app"
	"github.com/previewkit/kiln/domain/build"
)

func TestModuleGraph(t *testing.T) {
	res := &build.Result{
		Imports: map[string][]string{
			"/index.tsx": {"/app.tsx", "/theme.css"},
			"/app.tsx":   {"/theme.css"},
		},
	}

	g, err := app.ModuleGraph(res)
	if err != nil {
		t.Fatalf("ModuleGraph error: %v", err)
	}

	adj, err := g.AdjacencyMap()
	if err != nil {
		t.Fatalf("AdjacencyMap error: %v", err)
	}
	if len(adj) != 3 {
		t.Errorf("vertex count = %d, want 3", len(adj))
	}
	if _, ok := adj["/index.tsx"]["/app.tsx"]; !ok {
		t.Error("missing edge /index.tsx -> /app.tsx")
	}
	if _, ok := adj["/app.tsx"]["/theme.css"]; !ok {
		t.Error("missing edge /app.tsx -> /theme.css")
	}
	if len(adj["/theme.css"]) != 0 {
		t.Error("leaf module grew outgoing edges")
	}
}

func TestModuleGraph_ToleratesCyclesAndDuplicates(t *testing.T) {
	res := &build.Result{
		Imports: map[string][]string{
			"/a.ts": {"/b.ts", "/b.ts"},
			"/b.ts": {"/a.ts"},
		},
	}

	g, err := app.ModuleGraph(res)
	if err != nil {
		t.Fatalf("ModuleGraph error: %v", err)
	}
	adj, err := g.AdjacencyMap()
	if err != nil {
		t.Fatalf("AdjacencyMap error: %v", err)
	}
	if _, ok := adj["/a.ts"]["/b.ts"]; !ok {
		t.Error("missing edge /a.ts -> /b.ts")
	}
	if _, ok := adj["/b.ts"]["/a.ts"]; !ok {
		t.Error("cycle edge /b.ts -> /a.ts dropped")
	}
}

func TestWriteDOT(t *testing.T) {
	res := &build.Result{
		Imports: map[string][]string{
			"/index.tsx": {"/app.tsx"},
		},
	}

	var buf bytes.Buffer
	if err := app.WriteDOT(res, &buf); err != nil {
		t.Fatalf("WriteDOT error: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "digraph") {
		t.Error("output is not a digraph")
	}
	for _, want := range []string{"/index.tsx", "/app.tsx", "->"} {
		if !strings.Contains(out, want) {
			t.Errorf("DOT output missing %q", want)
		}
	}
}
