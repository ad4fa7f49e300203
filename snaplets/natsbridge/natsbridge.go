// Package natsbridge publishes a tree's lifecycle over NATS and lets a
// remote operator trigger reloads. Each installation announces itself on
// "<prefix>.init"; a message on "<prefix>.reload" re-initializes the tree
// and the outcome goes out on "<prefix>.reload.result".
package natsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/pkg/respond"
	"github.com/uffizio/snap/snaplet"
)

const (
	defaultPrefix = "snap"
	reloadTimeout = time.Minute
)

var configSchema = []byte(`{
	"type": "object",
	"properties": {
		"url":            {"type": "string"},
		"subject_prefix": {"type": "string", "minLength": 1},
		"remote_reload":  {"type": "boolean"}
	}
}`)

// Conn is the slice of a NATS connection the bridge uses. Dial returns
// the real one; tests substitute their own.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (Subscription, error)
	Drain() error
}

// Subscription undoes a Conn.Subscribe.
type Subscription interface {
	Unsubscribe() error
}

type natsConn struct {
	nc *nats.Conn
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject string, handler func(string, []byte)) (Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
}

func (c *natsConn) Drain() error {
	return c.nc.Drain()
}

// Dial connects to a NATS server with the bridge's standard options:
// infinite reconnects with a short wait, named after the component.
func Dial(url, name string) (Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsbridge", "Dial", "connect to NATS")
	}
	return &natsConn{nc: nc}, nil
}

// Option adjusts how the bridge component is built.
type Option func(*settings)

type settings struct {
	conn Conn
}

// WithConn injects an existing connection. The bridge then never dials
// and never drains; the connection stays the caller's to close.
func WithConn(conn Conn) Option {
	return func(s *settings) {
		s.conn = conn
	}
}

// Bridge is the component state for one installation.
type Bridge struct {
	conn    Conn
	prefix  string
	install uint64
}

// Publish sends v as JSON under the bridge's subject prefix.
func (b *Bridge) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "natsbridge", "Publish", "encode payload")
	}
	err = b.conn.Publish(b.prefix+"."+subject, data)
	return errors.WrapTransient(err, "natsbridge", "Publish", "publish message")
}

// runtime is the part of the bridge that survives reloads: one
// connection and one reload subscription per tree, established on the
// first install. Re-running the bootstrap must not stack subscriptions,
// or a single trigger message would fire several reloads.
type runtime[B any] struct {
	mu         sync.Mutex
	conn       Conn
	ownsConn   bool
	sub        Subscription
	registered bool
	installs   uint64
}

// New builds a lifecycle bridge component.
//
// Config namespace keys: url (default the NATS default URL; ignored when
// a connection is injected), subject_prefix (default "snap"),
// remote_reload (default true).
func New[B any](opts ...Option) snaplet.Bootstrap[B, Bridge] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	rt := &runtime[B]{}

	return snaplet.Make("nats-bridge", "publishes lifecycle events over NATS",
		nil,
		func(in *snaplet.Init[B, Bridge]) (Bridge, error) {
			return rt.install(in, s)
		})
}

func (rt *runtime[B]) install(in *snaplet.Init[B, Bridge], s settings) (Bridge, error) {
	if err := in.ValidateConfig(configSchema); err != nil {
		return Bridge{}, err
	}
	cfg := in.UserConfig()
	prefix := cfg.GetString("subject_prefix", defaultPrefix)

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.conn == nil {
		conn := s.conn
		owns := false
		if conn == nil {
			dialed, err := Dial(cfg.GetString("url", nats.DefaultURL), in.Name())
			if err != nil {
				return Bridge{}, err
			}
			conn, owns = dialed, true
		}
		rt.conn, rt.ownsConn = conn, owns
		if owns && !rt.registered {
			in.OnUnload(rt.teardown)
			rt.registered = true
		}
	}

	// The trigger subject is fixed the first time the subscription is
	// established; later reloads keep it even if the prefix changes.
	if rt.sub == nil && cfg.GetBool("remote_reload", true) {
		if reload := in.Reloader(); reload != nil {
			conn := rt.conn
			logger := in.Logger()
			sub, err := conn.Subscribe(prefix+".reload", func(string, []byte) {
				go triggerReload(conn, prefix, reload, logger)
			})
			if err != nil {
				return Bridge{}, errors.WrapTransient(err, in.Name(), "install", "subscribe to reload subject")
			}
			rt.sub = sub
			if !rt.registered {
				in.OnUnload(rt.teardown)
				rt.registered = true
			}
		}
	}

	rt.installs++
	b := Bridge{conn: rt.conn, prefix: prefix, install: rt.installs}

	if err := b.Publish("init", map[string]any{
		"id":          uuid.NewString(),
		"component":   in.Name(),
		"ancestry":    in.Ancestry(),
		"environment": in.Environment(),
		"install":     rt.installs,
		"at":          time.Now().UTC(),
	}); err != nil {
		return Bridge{}, err
	}

	in.AddRoutes([]snaplet.Route[Bridge]{
		{Path: "status", Fn: statusHandler},
	})

	in.Printf("nats bridge publishing on %s.*", prefix)
	return b, nil
}

// teardown unsubscribes, then drains the connection when the bridge
// dialed it itself. An injected connection stays open for its owner.
func (rt *runtime[B]) teardown() error {
	rt.mu.Lock()
	sub, conn, owns := rt.sub, rt.conn, rt.ownsConn
	rt.sub = nil
	rt.registered = false
	if owns {
		rt.conn, rt.ownsConn = nil, false
	}
	rt.mu.Unlock()

	var errs []error
	if sub != nil {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	if owns && conn != nil {
		if err := conn.Drain(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// triggerReload runs one remotely requested reload and publishes the
// outcome. It runs outside the NATS dispatcher so slow walks do not
// stall other subscriptions.
func triggerReload(conn Conn, prefix string, reload snaplet.ReloadFunc, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()

	reloadLog, err := reload(ctx)
	result := map[string]any{
		"id": uuid.NewString(),
		"ok": err == nil,
		"at": time.Now().UTC(),
	}
	if err != nil {
		logger.Error("remote reload failed", "error", err)
		result["error"] = err.Error()
	} else {
		result["log_bytes"] = len(reloadLog)
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := conn.Publish(prefix+".reload.result", data); err != nil {
		logger.Warn("could not publish reload result", "error", err)
	}
}

func statusHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Bridge]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{
		"component": sn.Config().Name(),
		"prefix":    sn.Value.prefix,
		"install":   sn.Value.install,
	})
}
