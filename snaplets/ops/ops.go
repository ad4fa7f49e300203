// Package ops provides the operational surface of a component tree:
// a JSON status report, a websocket stream of reload outcomes, and a
// route that triggers a reload from inside the tree.
package ops

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/uffizio/snap/pkg/respond"
	"github.com/uffizio/snap/snaplet"
)

// Event is one message on the events stream.
type Event struct {
	Type     string    `json:"type"`
	ID       string    `json:"id"`
	At       time.Time `json:"at"`
	OK       bool      `json:"ok"`
	Error    string    `json:"error,omitempty"`
	LogBytes int       `json:"log_bytes,omitempty"`
}

// Ops is the component state for one installation.
type Ops struct {
	hub      *hub
	history  *eventLog
	reload   snaplet.ReloadFunc
	install  uint64
	requests *atomic.Int64
	started  time.Time
}

// publish records the event and fans it out to connected clients.
func (o *Ops) publish(e Event) {
	o.history.record(e)
	o.hub.broadcast(e)
}

// Install returns how many times this component has been installed in
// its tree: 1 after the first run, one more per successful reload.
func (o *Ops) Install() uint64 {
	return o.install
}

// Requests returns the number of requests served since this
// installation went live.
func (o *Ops) Requests() int64 {
	return o.requests.Load()
}

// New builds the ops component.
//
// Routes, relative to the component's prefix:
//
//	GET  /status   JSON report for this installation
//	GET  /events   websocket stream of Events
//	GET  /history  recent events, oldest first
//	POST /reload   re-initialize the whole tree
//
// The component also wraps the entire site: every response carries an
// X-Ops-Generation header and bumps the request counter.
//
// Config namespace keys: history (int, default 64, how many events are
// retained for replay; the capacity is fixed at the first installation).
func New[B any]() snaplet.Bootstrap[B, Ops] {
	var installs atomic.Uint64
	// The ring outlives any single installation so that events published
	// before a reload are still replayable afterwards.
	var history *eventLog

	return snaplet.Make("ops", "status, events and reload",
		nil,
		func(in *snaplet.Init[B, Ops]) (Ops, error) {
			if history == nil {
				history = newEventLog(in.UserConfig().GetInt("history", defaultHistory))
			}
			o := Ops{
				hub:      newHub(in.Logger()),
				history:  history,
				reload:   in.Reloader(),
				install:  installs.Add(1),
				requests: &atomic.Int64{},
				started:  time.Now(),
			}
			in.OnUnload(o.hub.close)

			in.AddRoutes([]snaplet.Route[Ops]{
				{Path: "status", Fn: statusHandler},
				{Path: "events", Fn: eventsHandler},
				{Path: "history", Fn: historyHandler},
				{Path: "reload", Fn: reloadHandler},
			})

			in.WrapHandlers(func(next snaplet.Handler[Ops]) snaplet.Handler[Ops] {
				return func(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Ops]) {
					sn.Value.requests.Add(1)
					w.Header().Set("X-Ops-Generation", strconv.FormatUint(sn.Value.install, 10))
					next(w, r, sn)
				}
			})

			in.Printf("ops surface ready, install %d", o.install)
			return o, nil
		})
}

func statusHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Ops]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg := sn.Config()
	respond.JSON(w, http.StatusOK, map[string]any{
		"component":   cfg.Name(),
		"ancestry":    cfg.Ancestry(),
		"route":       cfg.RoutePrefix(),
		"environment": cfg.Environment(),
		"install":     sn.Value.Install(),
		"requests":    sn.Value.Requests(),
		"clients":     sn.Value.hub.count(),
		"events":      sn.Value.history.count(),
		"uptime":      time.Since(sn.Value.started).String(),
	})
}

func historyHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Ops]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respond.JSON(w, http.StatusOK, sn.Value.history.recent())
}

// eventsHandler upgrades to a websocket and holds the connection until
// the client leaves or the component unloads. Retained events are
// replayed after the hello; a client connecting during a broadcast may
// see that event twice, once replayed and once live, so consumers
// dedupe by id. Clients connected before a reload stay attached to the
// superseded installation and should reconnect to keep receiving
// events.
func eventsHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Ops]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	c, err := sn.Value.hub.add(w, r)
	if err != nil {
		return
	}

	replay := append([]Event{{Type: "hello", ID: c.id, At: time.Now().UTC(), OK: true}},
		sn.Value.history.recent()...)
	for _, e := range replay {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		if err := sn.Value.hub.send(c, data); err != nil {
			sn.Value.hub.remove(c)
			return
		}
	}
	sn.Value.hub.readLoop(c)
}

func reloadHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Ops]) {
	if r.Method != http.MethodPost {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	reload := sn.Value.reload
	if reload == nil {
		respond.Error(w, http.StatusServiceUnavailable, "reload not available")
		return
	}

	log, err := reload(r.Context())
	event := Event{
		Type:     "reload",
		ID:       uuid.NewString(),
		At:       time.Now().UTC(),
		OK:       err == nil,
		LogBytes: len(log),
	}
	if err != nil {
		event.Error = err.Error()
	}
	sn.Value.publish(event)

	if err != nil {
		respond.JSON(w, http.StatusInternalServerError, map[string]any{
			"ok":    false,
			"error": err.Error(),
			"log":   log,
		})
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "log": log})
}
