// Package snap provides a runtime for assembling web applications out of
// snaplets: self-contained components that compose into a tree and carry
// their own configuration, routes, filesystem area and lifecycle.
//
// # Philosophy: Composable Sites
//
// A site is a tree. The root is the application; every subtree is a
// snaplet that could just as well be the root of its own application.
// Composition gives each child three namespaces derived from its position
// in the tree, so components never collide and never coordinate:
//
//   - Route namespace: the child's handlers mount under the parent's
//     route prefix plus the fragment chosen at the nesting site.
//   - Config namespace: the child reads the subtree of the user
//     configuration named by its id.
//   - Filesystem namespace: the child owns snaplets/<id>/ inside its
//     parent's directory, seeded from a reference directory on first run.
//
// A snaplet MUST NOT reach outside those namespaces: no global route
// table, no shared config keys, no writes above its own directory. That
// restraint is what makes a component reusable across sites and lets the
// same component appear twice in one tree under different ids.
//
// # Architecture
//
// Three layers, each usable without the one above it:
//
//	┌─────────────────────────────────────┐
//	│            server               	   │  Listener, graceful stop,
//	│  (serve, watch, reload endpoint)    │  health and metrics routes
//	└─────────────────────────────────────┘
//	           ↓ serves
//	┌─────────────────────────────────────┐
//	│          snaplet runtime            │  Initialization walk,
//	│  (Make, Nest, Run, Reload, Focus)   │  generations, cleanup
//	└─────────────────────────────────────┘
//	           ↓ installs
//	┌─────────────────────────────────────┐
//	│           components                │  heartbeat, kvstore,
//	│  (yours, plus the built-in ones)    │  ops, natsbridge, ...
//	└─────────────────────────────────────┘
//
// # Initialization and Reload
//
// snaplet.Run performs the first initialization walk: it loads the layered
// configuration, creates component directories, runs every bootstrap in
// tree order and wires children into their parents. The walk produces a
// generation. A reload repeats the walk from scratch against freshly read
// configuration and atomically swaps the site's handler on success; on
// failure the previous generation keeps serving and the failed walk's
// partial work is unwound. Cleanup actions registered during any
// successful walk run once, in registration order, when the site shuts
// down.
//
// Every walk appends to an initialization log. The log is the first thing
// to read when a site misbehaves:
//
//	Initializing site @ /
//	Initializing pulse @ /pulse
//	Initializing kv @ /kv
//	...
//
// # Framework Packages
//
// Runtime:
//   - snaplet: component tree, initialization walk, reload, Focus wiring
//   - config: layered configuration (defaults, files, environment)
//   - errors: classified errors (init, contract, transient)
//
// Serving:
//   - server: HTTP server with graceful shutdown, rate limiting and
//     config-file watching
//   - health: liveness and readiness checks
//   - metric: Prometheus metrics
//
// Built-in components:
//   - snaplets/heartbeat: periodic pulse, the smallest useful snaplet
//   - snaplets/kvstore: Badger-backed key/value store
//   - snaplets/ops: status, event stream and remote reload
//   - snaplets/natsbridge: lifecycle events and reload triggers over NATS
//
// Utilities:
//   - pkg/dircopy: reference-directory seeding
//   - pkg/respond: JSON response helpers
//
// # Usage Patterns
//
// Assembling a site:
//
//	type App struct {
//	    Pulse *snaplet.Snaplet[heartbeat.Pulse]
//	    Store *snaplet.Snaplet[kvstore.Store]
//	}
//
//	var pulseFocus = snaplet.Focus[App, heartbeat.Pulse]{
//	    Get: func(a *App) *snaplet.Snaplet[heartbeat.Pulse] { return a.Pulse },
//	    Set: func(a *App, sn *snaplet.Snaplet[heartbeat.Pulse]) { a.Pulse = sn },
//	}
//
//	func newApp() snaplet.Bootstrap[App, App] {
//	    return snaplet.Make("site", "example site", nil,
//	        func(in *snaplet.Init[App, App]) (App, error) {
//	            var app App
//	            pulse, err := snaplet.Nest(in, "pulse", pulseFocus, heartbeat.New[App]())
//	            if err != nil {
//	                return app, err
//	            }
//	            app.Pulse = pulse
//	            // ... nest more components, add routes, wrap handlers
//	            return app, nil
//	        })
//	}
//
// Running and serving it:
//
//	site, err := snaplet.Run(ctx, newApp(),
//	    snaplet.WithRootDir("."),
//	    snaplet.WithEnvironment("prod"),
//	)
//	if err != nil {
//	    var initErr *snaplet.InitError
//	    if errors.As(err, &initErr) {
//	        fmt.Fprint(os.Stderr, initErr.Log)
//	    }
//	    return err
//	}
//	defer site.Cleanup()
//
//	return server.Serve(ctx, site,
//	    server.WithAddr(":8000"),
//	    server.WithReloadEndpoint("/admin/reload"),
//	)
//
// Using one component twice:
//
//	// The rename gives the second instance its own config namespace
//	// (backup-heartbeat.*) and its own data directory.
//	snaplet.Nest(in, "backup", backupFocus,
//	    snaplet.Name("backup-heartbeat", heartbeat.New[App]()))
//
// # Writing a Component
//
// A component is a constructor returning a Bootstrap. The bootstrap
// receives an Init scoped to the component's namespaces and returns the
// component's state:
//
//	func New[B any]() snaplet.Bootstrap[B, Greeter] {
//	    return snaplet.Make("greeter", "says hello", nil,
//	        func(in *snaplet.Init[B, Greeter]) (Greeter, error) {
//	            name := in.UserConfig().GetString("name", "world")
//	            in.AddRoutes([]snaplet.Route[Greeter]{
//	                {Path: "", Fn: helloHandler},
//	            })
//	            in.Printf("greeting %s", name)
//	            return Greeter{name: name}, nil
//	        })
//	}
//
// The type parameter B is the base: the root state type of whatever tree
// the component ends up installed in. Components stay generic in B so any
// site can adopt them.
//
// State that must survive reloads (an open database, a network
// connection) lives in the constructor's closure rather than in the
// component value; snaplets/kvstore and snaplets/natsbridge show the
// pattern.
//
// # Design Principles
//
// Isolation:
//   - Route, config and filesystem namespaces derive from tree position
//   - No globals; everything a component needs arrives through Init
//   - The same component installs twice without conflict
//
// Explicit failure:
//   - Bootstraps return errors, never panic
//   - A failed reload leaves the serving generation untouched
//   - The initialization log names the component that failed
//
// Testability:
//   - Components are tested by running a real tree against a temp dir
//   - Connections and clocks are injectable where components own them
//
// # Binary
//
// cmd/snapdemo assembles the built-in components into a demo site:
//
//	# run with defaults (devel environment, :8000)
//	snapdemo -root ./site
//
//	# validate configuration and print the init log without serving
//	snapdemo -root ./site -validate
//
//	# enable the NATS bridge and config-file watching
//	snapdemo -root ./site -nats -watch
package snap
