// Package manifest interprets package.json documents for entry-point
// selection. Parsing is deliberately forgiving: an absent or malformed
// manifest yields the zero Manifest, which resolves every subpath through
// the fallback chain and never aborts a build.
package manifest

import "encoding/json"

// Condition preference for exports targets. Browser-facing bundles prefer
// the ESM import condition, then the browser build, then the declared
// default, and only then the legacy module/require fields.
var conditionOrder = []string{"import", "browser", "default", "module", "require"}

// Manifest is the interpreted view of one package.json.
type Manifest struct {
	Name    string
	Main    string
	Module  string
	Browser string // string form only; object form is ignored

	exports map[string]exportValue
}

// exportValue is one node of the exports field: a literal target, a
// conditions object, or a list of alternatives.
type exportValue struct {
	str  string
	cond map[string]exportValue
	alts []exportValue
}

func (v *exportValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.str = s
		return nil
	}
	var m map[string]exportValue
	if err := json.Unmarshal(data, &m); err == nil {
		v.cond = m
		return nil
	}
	var a []exportValue
	if err := json.Unmarshal(data, &a); err == nil {
		v.alts = a
		return nil
	}
	// Unsupported shape (number, bool, null): treat as absent.
	return nil
}

// resolve reduces an export value to a concrete target, applying the
// condition preference order. Returns "" when nothing usable is present.
func (v exportValue) resolve() string {
	if v.str != "" {
		return v.str
	}
	if v.cond != nil {
		for _, cond := range conditionOrder {
			if next, ok := v.cond[cond]; ok {
				if s := next.resolve(); s != "" {
					return s
				}
			}
		}
	}
	for _, alt := range v.alts {
		if s := alt.resolve(); s != "" {
			return s
		}
	}
	return ""
}

// Parse interprets raw package.json bytes. Malformed JSON, a nil slice, or
// fields of unexpected shape all degrade to the zero value for that field;
// Parse never fails.
func Parse(data []byte) Manifest {
	var raw struct {
		Name    string          `json:"name"`
		Main    string          `json:"main"`
		Module  string          `json:"module"`
		Browser json.RawMessage `json:"browser"`
		Exports json.RawMessage `json:"exports"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Manifest{}
	}

	m := Manifest{Name: raw.Name, Main: raw.Main, Module: raw.Module}

	// browser may be a string or an object remap; only the string form names
	// an entry point.
	var browser string
	if json.Unmarshal(raw.Browser, &browser) == nil {
		m.Browser = browser
	}

	if len(raw.Exports) > 0 {
		var top exportValue
		if json.Unmarshal(raw.Exports, &top) == nil {
			m.exports = normalizeExports(top)
		}
	}
	return m
}

// normalizeExports lifts the exports field into a subpath-keyed map. A bare
// target or a conditions object at the top level is sugar for {".": value}.
func normalizeExports(top exportValue) map[string]exportValue {
	if top.cond != nil {
		keyed := false
		for key := range top.cond {
			if len(key) > 0 && key[0] == '.' {
				keyed = true
				break
			}
		}
		if keyed {
			return top.cond
		}
	}
	if top.str == "" && top.cond == nil && top.alts == nil {
		return nil
	}
	return map[string]exportValue{".": top}
}

// HasExports reports whether the manifest carries a usable exports field.
func (m Manifest) HasExports() bool { return m.exports != nil }

// Entry returns the package-root-relative entry for the given subpath
// ("" for the package root). The exports field wins when it names the
// subpath; otherwise the legacy fallback chain applies: the subpath itself
// when non-empty, else browser, module, main, and finally index.js.
// The caller joins the result onto the package root and applies
// extension and index completion.
func (m Manifest) Entry(subpath string) string {
	if m.exports != nil {
		key := "."
		if subpath != "" {
			key = "./" + subpath
		}
		if target, ok := m.exports[key]; ok {
			if s := target.resolve(); s != "" {
				return s
			}
		}
	}
	if subpath != "" {
		return subpath
	}
	if m.Browser != "" {
		return m.Browser
	}
	if m.Module != "" {
		return m.Module
	}
	if m.Main != "" {
		return m.Main
	}
	return "index.js"
}
