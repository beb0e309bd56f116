package app

import (
	"errors"
	"io"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"

	"github.com/previewkit/kiln/domain/build"
)

// ModuleGraph lifts the import adjacency recorded by the engine into a
// directed graph. Insertion runs in sorted order so repeated calls over the
// same result build identical graphs. Import cycles are legal in module
// graphs and are kept as-is; duplicate edges are collapsed.
func ModuleGraph(res *build.Result) (graph.Graph[string, string], error) {
	g := graph.New(graph.StringHash, graph.Directed())

	mods := make([]string, 0, len(res.Imports))
	for m := range res.Imports {
		mods = append(mods, m)
	}
	sort.Strings(mods)

	addVertex := func(name string) error {
		if err := g.AddVertex(name); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return err
		}
		return nil
	}

	for _, m := range mods {
		if err := addVertex(m); err != nil {
			return nil, err
		}
	}
	for _, m := range mods {
		deps := append([]string(nil), res.Imports[m]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if err := addVertex(dep); err != nil {
				return nil, err
			}
			if err := g.AddEdge(m, dep); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, err
			}
		}
	}
	return g, nil
}

// WriteDOT renders one build's module graph in graphviz DOT form.
func WriteDOT(res *build.Result, w io.Writer) error {
	g, err := ModuleGraph(res)
	if err != nil {
		return err
	}
	return draw.DOT(g, w)
}
