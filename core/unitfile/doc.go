// Package unitfile loads declarative unit files.
//
// A file is a list of units, in TOML:
//
//	[[unit]]
//	listeners = ["*:443"]
//
//	[unit.match]
//	hosts = ["example.com", "www.example.com"]
//	uri = "/api/*"
//
//	[unit.action]
//	proxy = "http://127.0.0.1:8333"
//
// or the same shape in YAML under a top-level "unit" list. Match keys other
// than hosts are passed to the runtime as route conditions; action keys are
// passed as the route action, with an optional nested fallback action.
package unitfile
