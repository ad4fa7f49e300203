package snaplet

import (
	"context"
	"strings"

	"github.com/uffizio/snap/config"
)

// ReloadFunc triggers a full re-initialization of the tree a component
// belongs to. On success it returns the new attempt's log; on failure the
// live tree is untouched and the error describes the failing component.
type ReloadFunc func(context.Context) (string, error)

// Config is the per-component metadata record the engine populates during
// the initialization walk. Components read it through an Init while
// bootstrapping and through their Snaplet at request time; all mutation
// goes through the engine.
type Config struct {
	ancestry     []string
	routeContext []string
	filePath     string
	id           string
	description  string
	environment  string
	userConfig   *config.Config
	reload       ReloadFunc
}

// Name returns the component's instance id. Empty only inside Nest,
// before the child bootstrap assigns one.
func (c *Config) Name() string {
	return c.id
}

// Description returns the human-readable description supplied by Make.
func (c *Config) Description() string {
	return c.description
}

// FilePath returns the component's on-disk data directory: the
// application root for the top-level component, parent/snaplets/<id>
// below it.
func (c *Config) FilePath() string {
	return c.filePath
}

// Environment returns the environment name the tree was started with.
func (c *Config) Environment() string {
	return c.environment
}

// Ancestry returns the ids of the component's ancestors, outermost first.
func (c *Config) Ancestry() []string {
	out := make([]string, len(c.ancestry))
	copy(out, c.ancestry)
	return out
}

// RouteContext returns the URL fragments contributed by ancestors,
// outermost first.
func (c *Config) RouteContext() []string {
	out := make([]string, len(c.routeContext))
	copy(out, c.routeContext)
	return out
}

// UserConfig returns the component's configuration namespace.
func (c *Config) UserConfig() *config.Config {
	if c.userConfig == nil {
		return config.Empty()
	}
	return c.userConfig
}

// Reloader returns the capability that re-runs the whole tree's
// initialization. Nil in trees built without a run handle.
func (c *Config) Reloader() ReloadFunc {
	return c.reload
}

// RoutePrefix returns the component's qualified URL prefix: "/" for the
// root, "/a/b" for a component nested under fragments a then b.
func (c *Config) RoutePrefix() string {
	return joinPath(c.routeContext, "")
}

// QualifyRoute returns the fully qualified path for a component-relative
// route path.
func (c *Config) QualifyRoute(path string) string {
	return joinPath(c.routeContext, path)
}

// clone returns a value copy with its own slice backing, so bracketed
// save/restore in Nest cannot alias the live record.
func (c *Config) clone() Config {
	out := *c
	out.ancestry = make([]string, len(c.ancestry))
	copy(out.ancestry, c.ancestry)
	out.routeContext = make([]string, len(c.routeContext))
	copy(out.routeContext, c.routeContext)
	return out
}

// joinPath normalizes route fragments plus a trailing path into a
// leading-slash URL path. Empty fragments and duplicate slashes collapse.
func joinPath(fragments []string, path string) string {
	parts := make([]string, 0, len(fragments)+1)
	for _, f := range fragments {
		for _, piece := range strings.Split(f, "/") {
			if piece != "" {
				parts = append(parts, piece)
			}
		}
	}
	for _, piece := range strings.Split(path, "/") {
		if piece != "" {
			parts = append(parts, piece)
		}
	}
	return "/" + strings.Join(parts, "/")
}
