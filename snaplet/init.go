package snaplet

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/uffizio/snap/config"
	"github.com/uffizio/snap/errors"
)

// Init is the component-local face of one initialization attempt. Every
// bootstrap function receives an Init typed to the root state B and its
// own state V; the primitives below read and shape the component's slice
// of the tree while the walk visits it.
//
// An Init is only valid for the duration of the bootstrap call it was
// passed to. Handlers, hooks and unload actions registered through it
// outlive the walk; the Init itself must not.
type Init[B, V any] struct {
	walk   *walkState[B]
	access access[B, V]
}

// Context returns the context the current initialization attempt was
// started with.
func (in *Init[B, V]) Context() context.Context {
	return in.walk.context()
}

// Logger returns the structured logger for this attempt. Never nil.
func (in *Init[B, V]) Logger() *slog.Logger {
	if in.walk.logger == nil {
		return slog.Default()
	}
	return in.walk.logger
}

// Name returns the id the component is being installed under.
func (in *Init[B, V]) Name() string {
	return in.walk.cur.id
}

// Description returns the component's description.
func (in *Init[B, V]) Description() string {
	return in.walk.cur.description
}

// FilePath returns the component's data directory.
func (in *Init[B, V]) FilePath() string {
	return in.walk.cur.filePath
}

// Environment returns the environment name the tree was started with.
func (in *Init[B, V]) Environment() string {
	return in.walk.cur.environment
}

// Ancestry returns the ids of the components this one is nested inside,
// outermost first.
func (in *Init[B, V]) Ancestry() []string {
	return in.walk.cur.Ancestry()
}

// RouteContext returns the URL fragments accumulated above this
// component, outermost first.
func (in *Init[B, V]) RouteContext() []string {
	return in.walk.cur.RouteContext()
}

// RoutePrefix returns the component's qualified URL prefix.
func (in *Init[B, V]) RoutePrefix() string {
	return in.walk.cur.RoutePrefix()
}

// UserConfig returns the component's configuration namespace: the
// ancestor chain's narrowed application config merged with the
// component's own snaplet.cfg.
func (in *Init[B, V]) UserConfig() *config.Config {
	return in.walk.cur.UserConfig()
}

// Reloader returns the capability that re-initializes the whole tree.
func (in *Init[B, V]) Reloader() ReloadFunc {
	return in.walk.cur.reload
}

// ModifyConfig applies f to the component's config record. The change is
// visible to the rest of this bootstrap and frozen into the installed
// Snaplet, but never escapes to parents or siblings.
func (in *Init[B, V]) ModifyConfig(f func(*Config)) {
	if f == nil {
		return
	}
	f(&in.walk.cur)
}

// ValidateConfig checks the component's user config against a JSON
// schema. Violations surface as initialization errors naming the
// component, so a bad config aborts the walk at the component that owns
// the namespace.
func (in *Init[B, V]) ValidateConfig(schema []byte) error {
	if err := in.UserConfig().Validate(schema); err != nil {
		return errors.Wrap(err, in.walk.cur.id, "ValidateConfig", "check user config")
	}
	return nil
}

// PrintInfo appends a line to the attempt's initialization log.
func (in *Init[B, V]) PrintInfo(msg string) {
	in.walk.log.printf("%s", msg)
}

// Printf appends a formatted line to the attempt's initialization log.
func (in *Init[B, V]) Printf(format string, args ...any) {
	in.walk.log.printf(format, args...)
}

// AddRoutes registers handlers for component-relative paths. Each path is
// qualified with the component's route context once, here; dispatch later
// picks the longest matching prefix and, between identical paths, the one
// registered last.
func (in *Init[B, V]) AddRoutes(routes []Route[V]) {
	for _, r := range routes {
		qualified := in.walk.cur.QualifyRoute(r.Path)
		in.walk.routes = append(in.walk.routes, routeEntry[B]{
			path: qualified,
			fn:   bindHandler(in.access, r.Fn),
		})
	}
}

// bindHandler converts a component handler into a root-typed handler by
// resolving the component's Snaplet out of the live snapshot per request.
func bindHandler[B, V any](acc access[B, V], fn Handler[V]) Handler[B] {
	return func(w http.ResponseWriter, r *http.Request, root *Snaplet[B]) {
		sn := acc.get(root)
		if sn == nil {
			http.Error(w, "component not installed", http.StatusInternalServerError)
			return
		}
		fn(w, r, sn)
	}
}

// WrapHandlers composes f around the entire site: every request to any
// route in the tree passes through it. The wrapper sees the wrapping
// component's own Snaplet. When several components contribute wrappers,
// the first one registered ends up outermost.
func (in *Init[B, V]) WrapHandlers(f func(Handler[V]) Handler[V]) {
	if f == nil {
		return
	}
	acc := in.access
	adapt := func(next Handler[B]) Handler[B] {
		// next runs against the root snapshot, which handlers reach
		// through the request context rather than the local view.
		wrapped := f(func(w http.ResponseWriter, r *http.Request, _ *Snaplet[V]) {
			root, ok := FromRequest[B](r)
			if !ok {
				http.Error(w, "no active snapshot", http.StatusInternalServerError)
				return
			}
			next(w, r, root)
		})
		return bindHandler(acc, wrapped)
	}

	prev := in.walk.filter
	if prev == nil {
		in.walk.filter = adapt
		return
	}
	in.walk.filter = func(next Handler[B]) Handler[B] {
		return prev(adapt(next))
	}
}

// AddPostInitHook schedules f to run against this component's state after
// the entire walk has succeeded, before the tree goes live. Hooks run in
// registration order across the whole tree; an error aborts the attempt.
func (in *Init[B, V]) AddPostInitHook(f func(*V) error) {
	if f == nil {
		return
	}
	acc := in.access
	id := in.walk.cur.id
	in.walk.hooks = append(in.walk.hooks, func(root *Snaplet[B]) error {
		sn := acc.get(root)
		if sn == nil {
			return errors.WrapContract(errors.ErrNotInstalled, id, "AddPostInitHook", "focus component state")
		}
		return f(&sn.Value)
	})
}

// AddPostInitHookBase is AddPostInitHook against the root wrapper, for
// hooks that need to see the whole assembled tree.
func (in *Init[B, V]) AddPostInitHookBase(f func(*Snaplet[B]) error) {
	if f == nil {
		return
	}
	in.walk.hooks = append(in.walk.hooks, f)
}

// OnUnload registers a teardown action. Actions run in registration order
// when the handle shuts down, or immediately, newest attempt only, when
// an initialization attempt fails partway.
func (in *Init[B, V]) OnUnload(f func() error) {
	in.walk.cleanup.append(f)
}

// logInstall writes the standard per-component log line.
func (in *Init[B, V]) logInstall() {
	in.walk.log.printf("Initializing %s @ /%s", in.walk.cur.id, joinFragments(in.walk.cur.routeContext))
	in.walk.installs++
}

func joinFragments(fragments []string) string {
	p := joinPath(fragments, "")
	if p == "/" {
		return ""
	}
	return p[1:]
}

// snapshotConfig freezes the current config into an installed record.
func (in *Init[B, V]) snapshotConfig() Config {
	return in.walk.cur.clone()
}
