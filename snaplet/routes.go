package snaplet

import (
	"context"
	"net/http"
	"path"
	"strings"
)

// routeEntry is one row of the site's route table: a fully qualified path
// and the root-typed handler behind it. The table is ordered; registration
// order breaks ties between identical paths.
type routeEntry[B any] struct {
	path string
	fn   Handler[B]
}

// dispatch returns the site handler for a route table. A request matches
// a route when its cleaned path equals the route or extends it at a '/'
// boundary; the longest matching route wins and, between equal routes,
// the one registered last. No match yields 404.
func dispatch[B any](routes []routeEntry[B]) Handler[B] {
	table := make([]routeEntry[B], len(routes))
	copy(table, routes)

	return func(w http.ResponseWriter, r *http.Request, root *Snaplet[B]) {
		req := cleanRequestPath(r.URL.Path)
		best := -1
		bestLen := -1
		for i, entry := range table {
			if !matchesAtBoundary(req, entry.path) {
				continue
			}
			if len(entry.path) >= bestLen {
				best = i
				bestLen = len(entry.path)
			}
		}
		if best < 0 {
			http.NotFound(w, r)
			return
		}
		table[best].fn(w, r, root)
	}
}

// matchesAtBoundary reports whether route serves req: exact match, or req
// continues past route at a path-segment boundary. The root route "/"
// matches everything.
func matchesAtBoundary(req, route string) bool {
	if req == route {
		return true
	}
	prefix := strings.TrimSuffix(route, "/") + "/"
	return strings.HasPrefix(req, prefix)
}

func cleanRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// rootKey carries the per-request root snapshot through the context, so
// site wrappers can continue the chain against the same snapshot their
// own view came from.
type rootKey struct{}

func withRoot[B any](ctx context.Context, root *Snaplet[B]) context.Context {
	return context.WithValue(ctx, rootKey{}, root)
}

// FromRequest returns the root snapshot the current request is being
// served against. It is set for every request that enters through a
// handle's Handler.
func FromRequest[B any](r *http.Request) (*Snaplet[B], bool) {
	root, ok := r.Context().Value(rootKey{}).(*Snaplet[B])
	return root, ok
}
