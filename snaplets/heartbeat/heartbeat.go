// Package heartbeat provides a minimal component: a counter driven by a
// background ticker, reported over two routes. It doubles as a reference
// for component authors and as a fixture for exercising trees.
package heartbeat

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/uffizio/snap/pkg/respond"
	"github.com/uffizio/snap/snaplet"
)

const defaultInterval = time.Second

// Pulse is the heartbeat state. All mutable fields are shared between
// the installed snapshot and the ticker goroutine.
type Pulse struct {
	interval time.Duration
	started  time.Time
	beats    *atomic.Int64
	stop     chan struct{}
	done     chan struct{}
}

// Beats returns the number of ticks since the component was installed.
func (p *Pulse) Beats() int64 {
	return p.beats.Load()
}

// Interval returns the configured tick interval.
func (p *Pulse) Interval() time.Duration {
	return p.interval
}

// New builds a heartbeat component. The tick interval comes from the
// component's config namespace, key "interval", default 1s.
//
// Routes, relative to the component's prefix:
//
//	GET /       JSON status report
//	GET /beats  bare beat count
func New[B any]() snaplet.Bootstrap[B, Pulse] {
	return snaplet.Make("heartbeat", "counts timer beats",
		nil,
		func(in *snaplet.Init[B, Pulse]) (Pulse, error) {
			p := Pulse{
				interval: in.UserConfig().GetDuration("interval", defaultInterval),
				started:  time.Now(),
				beats:    &atomic.Int64{},
				stop:     make(chan struct{}),
				done:     make(chan struct{}),
			}
			go p.run()

			in.OnUnload(func() error {
				close(p.stop)
				<-p.done
				return nil
			})

			in.AddRoutes([]snaplet.Route[Pulse]{
				{Path: "", Fn: statusHandler},
				{Path: "beats", Fn: beatsHandler},
			})

			in.Printf("heartbeat ticking every %s", p.interval)
			return p, nil
		})
}

func (p *Pulse) run() {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.beats.Add(1)
		}
	}
}

func statusHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Pulse]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	cfg := sn.Config()
	respond.JSON(w, http.StatusOK, map[string]any{
		"component": cfg.Name(),
		"route":     cfg.RoutePrefix(),
		"interval":  sn.Value.Interval().String(),
		"beats":     sn.Value.Beats(),
		"uptime":    time.Since(sn.Value.started).String(),
	})
}

func beatsHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Pulse]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	fmt.Fprintf(w, "%d", sn.Value.Beats())
}
