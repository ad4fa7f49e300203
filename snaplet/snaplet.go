package snaplet

import "net/http"

// Snaplet is an installed component: the metadata frozen at the end of
// its bootstrap plus the state value the bootstrap produced. Handlers and
// hooks receive the Snaplet for the component they were registered by.
type Snaplet[V any] struct {
	cfg Config

	// Value is the component state. The engine never mutates it after
	// installation; post-init hooks may, before the tree goes live.
	Value V
}

// Config returns the component's installed metadata.
func (s *Snaplet[V]) Config() *Config {
	return &s.cfg
}

// Handler is a request handler bound to one component's view of the
// tree. The engine locates the component's Snaplet inside the live root
// snapshot before each call, so a handler always sees state from a
// single initialization attempt.
type Handler[V any] func(http.ResponseWriter, *http.Request, *Snaplet[V])

// Route pairs a component-relative path with its handler. Paths are
// qualified with the component's route context at registration time.
type Route[V any] struct {
	Path string
	Fn   Handler[V]
}

// Focus tells the engine where a parent's state keeps a nested child.
// Get must return the child Snaplet stored in the parent (nil when the
// parent has not stored one); Set stores a replacement. The pair lets
// hooks, filters and handlers registered by a child re-find that child
// inside any future root snapshot.
type Focus[P, C any] struct {
	Get func(*P) *Snaplet[C]
	Set func(*P, *Snaplet[C])
}

// access resolves a component's Snaplet from the root wrapper. Each
// nesting level composes one more Focus onto the chain.
type access[B, V any] struct {
	get func(*Snaplet[B]) *Snaplet[V]
}

func rootAccess[B any]() access[B, B] {
	return access[B, B]{
		get: func(root *Snaplet[B]) *Snaplet[B] { return root },
	}
}

func composeAccess[B, P, C any](outer access[B, P], focus Focus[P, C]) access[B, C] {
	return access[B, C]{
		get: func(root *Snaplet[B]) *Snaplet[C] {
			p := outer.get(root)
			if p == nil {
				return nil
			}
			return focus.Get(&p.Value)
		},
	}
}
