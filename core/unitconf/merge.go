package unitconf

import (
	"maps"
	"slices"
	"strings"
)

// Merge overlays next onto prev.
//
// Listeners from next replace listeners of prev with the same socket. Tables
// only present in prev pass through untouched. Every table present in next
// becomes prev's routes followed by next's, stable-sorted by match key, with
// each run of equal keys collapsed to its first route, so on a tie the route
// already in prev wins. A table missing from prev is treated as empty, which
// keeps Merge idempotent for any input.
func Merge(prev, next Config) Config {
	out := prev.Clone()

	for socket, l := range next.Clone().Listeners {
		out.Listeners[socket] = l
	}
	for table, routes := range next.Routes {
		combined := append(out.Routes[table], cloneRoutes(routes)...)
		out.Routes[table] = dedupSorted(combined)
	}
	for k, v := range next.Extra {
		if out.Extra == nil {
			out.Extra = maps.Clone(next.Extra)
			break
		}
		if _, ok := out.Extra[k]; !ok {
			out.Extra[k] = v
		}
	}
	return out
}

func dedupSorted(routes []Route) []Route {
	slices.SortStableFunc(routes, func(a, b Route) int {
		return strings.Compare(a.Key(), b.Key())
	})
	out := routes[:0]
	for i, r := range routes {
		if i > 0 && r.Key() == routes[i-1].Key() {
			continue
		}
		out = append(out, r)
	}
	if out == nil {
		return []Route{}
	}
	return out
}

// Unmerge removes from prev every route that is equal, match and action, to
// a route in the same table of next. Tables and listeners are kept.
func Unmerge(prev, next Config) Config {
	out := prev.Clone()
	for table, remove := range next.Routes {
		routes, ok := out.Routes[table]
		if !ok {
			continue
		}
		out.Routes[table] = slices.DeleteFunc(routes, func(r Route) bool {
			return slices.ContainsFunc(remove, r.Equal)
		})
	}
	return out
}

// InsertPriorityRoute places route at index 0 of table, provisioning the
// table if needed. An equal route already in the table is moved, not copied.
func InsertPriorityRoute(cfg Config, table RouteTable, route Route) Config {
	out := cfg.Clone()
	rest := slices.DeleteFunc(out.Routes[table], route.Equal)
	out.Routes[table] = append([]Route{{Match: route.Match.Clone(), Action: route.Action}}, rest...)
	return out
}

// RemovePriorityRoute withdraws every route equal to route from table,
// preserving the order of the remaining routes.
func RemovePriorityRoute(cfg Config, table RouteTable, route Route) Config {
	out := cfg.Clone()
	routes, ok := out.Routes[table]
	if !ok {
		return out
	}
	out.Routes[table] = slices.DeleteFunc(routes, route.Equal)
	return out
}
