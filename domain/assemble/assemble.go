// Package assemble merges compiled script and style text into an HTML
// document. The template keeps its structure; local static references are
// stripped (the compiler already inlined them) while external resources
// survive, and the compiled output is injected at fixed positions so two
// identical builds yield byte-identical documents.
package assemble

import (
	"strings"

	"golang.org/x/net/html"
)

// DefaultTemplate is used when the module set carries no HTML document.
const DefaultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8" />
<meta name="viewport" content="width=device-width, initial-scale=1.0" />
<title>Preview</title>
</head>
<body>
<div id="root"></div>
</body>
</html>
`

// DefaultPreserveHosts are kept even when referenced protocol-relative
// (//fonts.googleapis.com/...), where the scheme check alone would not fire.
var DefaultPreserveHosts = []string{"fonts.googleapis.com", "fonts.gstatic.com"}

// Input is everything the assembler needs for one document.
type Input struct {
	Template      string   // discovered template, or "" for DefaultTemplate
	Script        string   // compiled module script text
	Style         string   // compiled stylesheet text
	Externals     []string // resource URLs injected into <head>, in order
	PreserveHosts []string // hosts whose tags survive stripping; nil = defaults
}

// Assemble produces the final document:
//
//  1. local <script src> tags and local stylesheet <link> tags are stripped;
//     external http(s) references and whitelisted hosts are preserved,
//  2. external resource tags and a <style> block are injected right after
//     the opening <head> (synthesized when the template has none),
//  3. a <script type="module"> block with the compiled script is injected
//     right before </body>, or appended when no closing tag exists.
func Assemble(in Input) string {
	tpl := in.Template
	if strings.TrimSpace(tpl) == "" {
		tpl = DefaultTemplate
	}
	hosts := in.PreserveHosts
	if hosts == nil {
		hosts = DefaultPreserveHosts
	}

	doc := stripLocalRefs(tpl, hosts)
	if block := headBlock(in.Externals, in.Style); block != "" {
		doc = injectIntoHead(doc, block)
	}
	return injectModuleScript(doc, in.Script)
}

// stripLocalRefs walks the template tokens, dropping local script references
// (including their bodies) and local stylesheet links. Everything else is
// written back verbatim from the raw token bytes.
func stripLocalRefs(tpl string, hosts []string) string {
	z := html.NewTokenizer(strings.NewReader(tpl))
	var out strings.Builder
	out.Grow(len(tpl))
	skipScriptBody := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "script":
				attrs := readAttrs(z, hasAttr)
				if src := attrs["src"]; src != "" && !preserved(src, hosts) {
					if tt == html.StartTagToken {
						skipScriptBody = true
					}
					continue
				}
			case "link":
				attrs := readAttrs(z, hasAttr)
				if strings.EqualFold(attrs["rel"], "stylesheet") && !preserved(attrs["href"], hosts) {
					continue
				}
			}
			out.Write(z.Raw())
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "script" && skipScriptBody {
				skipScriptBody = false
				continue
			}
			out.Write(z.Raw())
		case html.TextToken:
			if skipScriptBody {
				continue
			}
			out.Write(z.Raw())
		default:
			out.Write(z.Raw())
		}
	}
	return out.String()
}

func readAttrs(z *html.Tokenizer, hasAttr bool) map[string]string {
	if !hasAttr {
		return nil
	}
	attrs := make(map[string]string, 4)
	for {
		key, val, more := z.TagAttr()
		attrs[string(key)] = string(val)
		if !more {
			break
		}
	}
	return attrs
}

// preserved reports whether a reference survives stripping: any absolute
// http(s) URL does, and protocol-relative URLs do when their host is
// whitelisted.
func preserved(url string, hosts []string) bool {
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return true
	}
	if strings.HasPrefix(url, "//") {
		host := url[2:]
		if i := strings.IndexByte(host, '/'); i >= 0 {
			host = host[:i]
		}
		for _, h := range hosts {
			if strings.EqualFold(h, host) {
				return true
			}
		}
	}
	return false
}

// headBlock renders the tags injected after <head>: one tag per external
// URL (stylesheets by extension, classic scripts otherwise, so UMD globals
// install before the module script runs), then the compiled styles.
func headBlock(externals []string, style string) string {
	var b strings.Builder
	for _, u := range externals {
		if isStyleURL(u) {
			b.WriteString(`<link rel="stylesheet" href="` + u + "\">\n")
		} else {
			b.WriteString(`<script src="` + u + "\"></script>\n")
		}
	}
	if style != "" {
		b.WriteString("<style>\n" + style + "</style>\n")
	}
	return b.String()
}

func isStyleURL(u string) bool {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".css")
}

// injectIntoHead places block right after the opening <head> tag. Templates
// without a <head> get one synthesized after <html>, or at the very start
// when there is no <html> either.
func injectIntoHead(doc, block string) string {
	if pos, ok := afterOpenTag(doc, "head"); ok {
		return doc[:pos] + "\n" + block + doc[pos:]
	}
	if pos, ok := afterOpenTag(doc, "html"); ok {
		return doc[:pos] + "\n<head>\n" + block + "</head>" + doc[pos:]
	}
	return "<head>\n" + block + "</head>\n" + doc
}

// injectModuleScript places the compiled script before </body>, appending
// it when the template never closes the body.
func injectModuleScript(doc, script string) string {
	tag := "<script type=\"module\">\n" + script + "\n</script>\n"
	lower := strings.ToLower(doc)
	if i := strings.LastIndex(lower, "</body>"); i >= 0 {
		return doc[:i] + tag + doc[i:]
	}
	return doc + "\n" + tag
}

// afterOpenTag finds the first opening tag with the given name and returns
// the offset just past its closing '>'. Matching is case-insensitive and
// respects word boundaries, so "head" never matches "<header>".
func afterOpenTag(doc, name string) (int, bool) {
	lower := strings.ToLower(doc)
	needle := "<" + name
	from := 0
	for {
		i := strings.Index(lower[from:], needle)
		if i < 0 {
			return 0, false
		}
		i += from
		rest := i + len(needle)
		if rest < len(lower) {
			switch lower[rest] {
			case '>', ' ', '\t', '\n', '\r', '/':
				if j := strings.IndexByte(doc[i:], '>'); j >= 0 {
					return i + j + 1, true
				}
			}
		}
		from = i + len(needle)
	}
}

// FindEntryScript extracts the entry reference from an HTML template: the
// first local script marked type="module" wins, otherwise the first local
// script with a src. External scripts never qualify.
func FindEntryScript(template string) (src string, isModule bool, ok bool) {
	z := html.NewTokenizer(strings.NewReader(template))
	var first string
	var found bool
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "script" {
			continue
		}
		attrs := readAttrs(z, hasAttr)
		s := attrs["src"]
		if s == "" || preserved(s, nil) {
			continue
		}
		if strings.EqualFold(attrs["type"], "module") {
			return s, true, true
		}
		if !found {
			first, found = s, true
		}
	}
	return first, false, found
}
