// Package shim provides synthetic module bodies for the handful of bare
// specifiers that must bind to globally loaded runtime libraries instead of
// bundled packages. The preview document loads the UI runtime as UMD globals
// (window.React, window.ReactDOM); these shims let compiled ESM import sites
// reach those globals without any package being present in either namespace.
//
// The table is closed: resolution consults it only after both namespaces
// have missed, and specifiers outside the table are marked external.
package shim

import "sort"

const jsxRuntimeBody = `const React = window.React;
function __element(type, props, key) {
  const { children, ...rest } = props || {};
  if (key !== undefined) rest.key = key;
  if (Array.isArray(children)) return React.createElement(type, rest, ...children);
  if (children !== undefined) return React.createElement(type, rest, children);
  return React.createElement(type, rest);
}
export const jsx = __element;
export const jsxs = __element;
export const Fragment = React.Fragment;
`

const jsxDevRuntimeBody = `const React = window.React;
function __element(type, props, key) {
  const { children, ...rest } = props || {};
  if (key !== undefined) rest.key = key;
  if (Array.isArray(children)) return React.createElement(type, rest, ...children);
  if (children !== undefined) return React.createElement(type, rest, children);
  return React.createElement(type, rest);
}
export function jsxDEV(type, props, key, _isStaticChildren, _source, _self) {
  return __element(type, props, key);
}
export const Fragment = React.Fragment;
`

const domClientBody = `const ReactDOM = window.ReactDOM;
export const createRoot = ReactDOM.createRoot;
export const hydrateRoot = ReactDOM.hydrateRoot;
export default ReactDOM;
`

var table = map[string]string{
	"react/jsx-runtime":     jsxRuntimeBody,
	"react/jsx-dev-runtime": jsxDevRuntimeBody,
	"react-dom/client":      domClientBody,
}

// Lookup returns the synthetic module body for a shimmed specifier.
func Lookup(specifier string) (body string, ok bool) {
	body, ok = table[specifier]
	return body, ok
}

// Has reports whether the specifier is in the shim table.
func Has(specifier string) bool {
	_, ok := table[specifier]
	return ok
}

// Specifiers returns the shimmed specifiers in sorted order.
func Specifiers() []string {
	specs := make([]string, 0, len(table))
	for s := range table {
		specs = append(specs, s)
	}
	sort.Strings(specs)
	return specs
}
