// Package server runs a snaplet tree behind an HTTP listener.
//
// Serve takes the tree's run handle (anything satisfying Site), mounts
// its handler at "/", and layers the operational surface around it:
// a Prometheus endpoint, an aggregated health endpoint, a loopback-only
// reload endpoint, an optional token-bucket rate limit on site traffic
// and an optional config watcher that reloads the tree when its files
// change. Shutdown is graceful: canceling the context drains the
// listener within the shutdown timeout and then runs the tree's unload
// actions.
//
//	err := server.Serve(ctx, handle,
//		server.WithAddr(":8000"),
//		server.WithMetrics(m, "/metrics"),
//		server.WithHealthEndpoint("/healthz"),
//		server.WithReloadEndpoint("/admin/reload"),
//		server.WithConfigWatcher(filepath.Join(root, "app.cfg")),
//	)
package server
