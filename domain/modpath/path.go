// Package modpath provides pure functions over module paths and import
// specifiers. Every path stored or compared anywhere in the pipeline is
// absolute, slash-separated, and normalized through this package first, so
// lookups into the virtual set and the workspace store are plain string
// comparisons.
package modpath

import "strings"

// Root is the top of both module namespaces.
const Root = "/"

// Kind classifies an import specifier before resolution.
type Kind int

const (
	KindRelative Kind = iota // ./x, ../x, ".", ".."
	KindAbsolute             // /src/x
	KindURL                  // http:// or https://
	KindBare                 // react, @scope/pkg/sub
)

// Normalize collapses a path to canonical absolute form: segments split on
// "/", empty and "." segments dropped, ".." pops the previous segment, and
// excess ".." is absorbed at the root (the root's parent is the root).
// The result always starts with "/" and never ends with one, except for the
// root itself. Normalize is idempotent.
func Normalize(p string) string {
	segs := strings.Split(p, "/")
	stack := make([]string, 0, len(segs))
	for _, seg := range segs {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	if len(stack) == 0 {
		return Root
	}
	return "/" + strings.Join(stack, "/")
}

// Join resolves rel against the directory dir and normalizes the result.
// rel may itself be absolute, in which case dir is ignored.
func Join(dir, rel string) string {
	if strings.HasPrefix(rel, "/") {
		return Normalize(rel)
	}
	return Normalize(dir + "/" + rel)
}

// Dir returns the parent directory of p. The parent of the root is the root.
func Dir(p string) string {
	p = Normalize(p)
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return Root
	}
	return p[:idx]
}

// Base returns the last segment of p, or "/" for the root.
func Base(p string) string {
	p = Normalize(p)
	if p == Root {
		return Root
	}
	return p[strings.LastIndex(p, "/")+1:]
}

// Ext returns the extension of p's last segment including the dot, or "".
func Ext(p string) string {
	base := Base(p)
	idx := strings.LastIndex(base, ".")
	if idx <= 0 {
		return ""
	}
	return base[idx:]
}

// Classify reports how a specifier should be resolved.
func Classify(specifier string) Kind {
	switch {
	case strings.HasPrefix(specifier, "http://"), strings.HasPrefix(specifier, "https://"):
		return KindURL
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"),
		specifier == ".", specifier == "..":
		return KindRelative
	case strings.HasPrefix(specifier, "/"):
		return KindAbsolute
	default:
		return KindBare
	}
}

// SplitBare splits a bare specifier into its package name and subpath.
// Scoped packages keep two segments in the name: "@scope/pkg/dist/x" yields
// ("@scope/pkg", "dist/x"); "react" yields ("react", "").
func SplitBare(specifier string) (pkg, subpath string) {
	segs := strings.SplitN(specifier, "/", 3)
	if strings.HasPrefix(specifier, "@") {
		if len(segs) < 2 {
			return specifier, ""
		}
		pkg = segs[0] + "/" + segs[1]
		if len(segs) == 3 {
			subpath = segs[2]
		}
		return pkg, subpath
	}
	pkg = segs[0]
	if len(segs) > 1 {
		subpath = strings.Join(segs[1:], "/")
	}
	return pkg, subpath
}
