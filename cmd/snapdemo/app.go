package main

import (
	"net/http"

	"github.com/uffizio/snap/pkg/respond"
	"github.com/uffizio/snap/snaplet"
	"github.com/uffizio/snap/snaplets/heartbeat"
	"github.com/uffizio/snap/snaplets/kvstore"
	"github.com/uffizio/snap/snaplets/natsbridge"
	"github.com/uffizio/snap/snaplets/ops"
)

// App is the root component of the demo site. Each field holds one
// nested child; the engine keeps them pointed at the live tree across
// reloads.
type App struct {
	Pulse  *snaplet.Snaplet[heartbeat.Pulse]
	Backup *snaplet.Snaplet[heartbeat.Pulse]
	Store  *snaplet.Snaplet[kvstore.Store]
	Ops    *snaplet.Snaplet[ops.Ops]
	Bridge *snaplet.Snaplet[natsbridge.Bridge]
}

func pulseFocus() snaplet.Focus[App, heartbeat.Pulse] {
	return snaplet.Focus[App, heartbeat.Pulse]{
		Get: func(a *App) *snaplet.Snaplet[heartbeat.Pulse] { return a.Pulse },
		Set: func(a *App, sn *snaplet.Snaplet[heartbeat.Pulse]) { a.Pulse = sn },
	}
}

func backupFocus() snaplet.Focus[App, heartbeat.Pulse] {
	return snaplet.Focus[App, heartbeat.Pulse]{
		Get: func(a *App) *snaplet.Snaplet[heartbeat.Pulse] { return a.Backup },
		Set: func(a *App, sn *snaplet.Snaplet[heartbeat.Pulse]) { a.Backup = sn },
	}
}

func storeFocus() snaplet.Focus[App, kvstore.Store] {
	return snaplet.Focus[App, kvstore.Store]{
		Get: func(a *App) *snaplet.Snaplet[kvstore.Store] { return a.Store },
		Set: func(a *App, sn *snaplet.Snaplet[kvstore.Store]) { a.Store = sn },
	}
}

func opsFocus() snaplet.Focus[App, ops.Ops] {
	return snaplet.Focus[App, ops.Ops]{
		Get: func(a *App) *snaplet.Snaplet[ops.Ops] { return a.Ops },
		Set: func(a *App, sn *snaplet.Snaplet[ops.Ops]) { a.Ops = sn },
	}
}

func bridgeFocus() snaplet.Focus[App, natsbridge.Bridge] {
	return snaplet.Focus[App, natsbridge.Bridge]{
		Get: func(a *App) *snaplet.Snaplet[natsbridge.Bridge] { return a.Bridge },
		Set: func(a *App, sn *snaplet.Snaplet[natsbridge.Bridge]) { a.Bridge = sn },
	}
}

// newApp assembles the demo tree. Route layout:
//
//	/            site summary
//	/pulse/...   primary heartbeat
//	/backup/...  second heartbeat installed under its own id
//	/kv/...      Badger-backed key/value store
//	/ops/...     operations console (status, websocket events, reload)
//	/bridge/...  NATS lifecycle bridge, when enabled
func newApp(withNATS bool) snaplet.Bootstrap[App, App] {
	return snaplet.Make(appName, "demo site wiring the built-in components", nil,
		func(in *snaplet.Init[App, App]) (App, error) {
			var app App

			pulse, err := snaplet.Nest(in, "pulse", pulseFocus(), heartbeat.New[App]())
			if err != nil {
				return App{}, err
			}
			app.Pulse = pulse

			// Same component twice: the id rename gives the second
			// instance its own config namespace and data directory.
			backup, err := snaplet.Nest(in, "backup", backupFocus(),
				snaplet.Name("backup-heartbeat", heartbeat.New[App]()))
			if err != nil {
				return App{}, err
			}
			app.Backup = backup

			store, err := snaplet.Nest(in, "kv", storeFocus(), kvstore.New[App]())
			if err != nil {
				return App{}, err
			}
			app.Store = store

			console, err := snaplet.Nest(in, "ops", opsFocus(), ops.New[App]())
			if err != nil {
				return App{}, err
			}
			app.Ops = console

			if withNATS {
				// Renamed so operators configure it as bridge.* instead
				// of nats-bridge.*, which env overrides cannot spell.
				bridge, err := snaplet.Nest(in, "bridge", bridgeFocus(),
					snaplet.Name("bridge", natsbridge.New[App]()))
				if err != nil {
					return App{}, err
				}
				app.Bridge = bridge
			}

			in.AddRoutes([]snaplet.Route[App]{
				{Path: "", Fn: indexHandler},
			})

			in.Printf("demo site assembled, nats bridge enabled: %v", withNATS)
			return app, nil
		})
}

// indexHandler summarizes the live tree. It reads nested state through
// the snapshot it was handed, so a reload mid-request cannot tear the
// numbers it reports.
func indexHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[App]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	app := &sn.Value
	summary := map[string]any{
		"site":        sn.Config().Name(),
		"environment": sn.Config().Environment(),
		"install":     app.Ops.Value.Install(),
		"beats": map[string]int64{
			"pulse":  app.Pulse.Value.Beats(),
			"backup": app.Backup.Value.Beats(),
		},
	}
	if app.Bridge != nil {
		summary["bridge"] = app.Bridge.Config().Name()
	}
	respond.JSON(w, http.StatusOK, summary)
}
