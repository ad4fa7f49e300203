// Package snaplet initializes trees of reusable web components and keeps
// them reloadable while they serve.
//
// A component is described by a Bootstrap, built with Make from an
// initialization function. Bootstraps compose: a parent's initialization
// function calls Nest to install children, each child getting its own id,
// data directory, configuration namespace and URL prefix derived from
// where it sits in the tree rather than from anything hard-coded in the
// component. The same Bootstrap can therefore be installed twice in one
// application under different names and routes without interference.
//
// # Building a tree
//
// Application state is an ordinary struct holding the installed children:
//
//	type App struct {
//		Heart *snaplet.Snaplet[heartbeat.State]
//		Store *snaplet.Snaplet[kvstore.Store]
//	}
//
//	app := snaplet.Make[App, App]("app", "demo application", nil,
//		func(in *snaplet.Init[App, App]) (App, error) {
//			var a App
//			heart, err := snaplet.Nest(in, "heartbeat", heartFocus, heartbeat.New[App]())
//			if err != nil {
//				return a, err
//			}
//			a.Heart = heart
//			// ...
//			return a, nil
//		})
//
// The Focus passed to Nest tells the engine how to find the child inside
// the parent's state again later; handlers and hooks registered by the
// child are re-resolved through it against whatever tree snapshot is live
// when they run.
//
// # Running
//
// Run walks the tree once, synchronously, and returns a Handle. The
// Handle's Handler serves HTTP against the live snapshot; Reload re-runs
// the entire walk and atomically swaps in the new state only if every
// component succeeded, so a broken edit to a config file can never take
// down a serving tree. Requests that began before a swap keep the
// snapshot they started with.
//
// Routes registered with AddRoutes are qualified by nesting location:
// a "hello" route in a component nested under the fragment "a" serves
// /a/hello. Dispatch picks the longest registered prefix that matches on
// a path-segment boundary; between identical paths the later registration
// wins. Site-wide wrappers registered with WrapHandlers compose with the
// first registration outermost. Both the route table and the wrapper
// chain are fixed at the first Run; reloads swap state only.
//
// # Data directories and configuration
//
// Each component owns a directory under its parent's: <parent>/snaplets/<id>.
// Make's reference locator seeds that directory on first install without
// overwriting operator edits. Configuration narrows alongside: a
// component named "kv" nested in the root reads the "kv" subtree of
// app.cfg, merged with its own snaplet.cfg.
package snaplet
