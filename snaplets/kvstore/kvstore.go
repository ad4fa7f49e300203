// Package kvstore provides a persistent key/value component backed by
// BadgerDB. The database lives under the component's data directory, so
// two installations of the component keep two independent stores.
package kvstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/pkg/respond"
	"github.com/uffizio/snap/snaplet"
)

// ErrNotFound is returned by Get for keys that were never set.
var ErrNotFound = errors.New("kvstore: key not found")

const (
	defaultGCInterval = 5 * time.Minute
	defaultGCRatio    = 0.5
)

// configSchema constrains the component's config namespace. Unknown keys
// pass through untouched so the namespace can carry parent-level
// settings.
var configSchema = []byte(`{
	"type": "object",
	"properties": {
		"in_memory":   {"type": "boolean"},
		"sync_writes": {"type": "boolean"},
		"gc_interval": {"type": "string"},
		"gc_ratio":    {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

// Store is the component state: an open BadgerDB plus access counters.
type Store struct {
	db       *badger.DB
	inMemory bool
	opened   time.Time
	gets     *atomic.Int64
	sets     *atomic.Int64
}

// Option adjusts how the store component is built.
type Option func(*settings)

type settings struct {
	reference snaplet.ReferenceFunc
}

// WithReference seeds the component's data directory from a reference
// directory before the store opens. Files already present are kept.
func WithReference(ref snaplet.ReferenceFunc) Option {
	return func(s *settings) {
		s.reference = ref
	}
}

// New builds a key/value store component.
//
// The database handle outlives any single initialization attempt: the
// previous installation keeps its directory lock until the tree's final
// cleanup, so reloads reuse the open database instead of re-opening it.
// Storage options are therefore fixed at first open; a changed in_memory
// or sync_writes value logs a warning and keeps the running handle.
// Create one New value per installation site.
//
// Config namespace keys: in_memory (bool, default false), sync_writes
// (bool, default true), gc_interval (duration, default 5m, "0" disables),
// gc_ratio (0..1, default 0.5).
//
// Routes, relative to the component's prefix:
//
//	GET  /get/<key>  value bytes, 404 when absent
//	POST /set        {"key": ..., "value": ...}
//	GET  /stats      store statistics
func New[B any](opts ...Option) snaplet.Bootstrap[B, Store] {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	rt := &runtime[B]{}

	return snaplet.Make("kvstore", "persistent key/value store",
		s.reference,
		func(in *snaplet.Init[B, Store]) (Store, error) {
			if err := in.ValidateConfig(configSchema); err != nil {
				return Store{}, err
			}

			st, err := rt.open(in)
			if err != nil {
				return Store{}, err
			}

			in.AddRoutes([]snaplet.Route[Store]{
				{Path: "get", Fn: getHandler},
				{Path: "set", Fn: setHandler},
				{Path: "stats", Fn: statsHandler},
			})

			in.Printf("kvstore open at %s", in.FilePath())
			return st, nil
		})
}

// runtime is the part of the store that survives reloads: the database
// handle and its GC loop.
type runtime[B any] struct {
	mu         sync.Mutex
	db         *badger.DB
	inMemory   bool
	syncWrites bool
	opened     time.Time
	gcStop     chan struct{}
	gcDone     chan struct{}
}

func (rt *runtime[B]) open(in *snaplet.Init[B, Store]) (Store, error) {
	cfg := in.UserConfig()
	inMemory := cfg.GetBool("in_memory", false)
	syncWrites := cfg.GetBool("sync_writes", true)
	if inMemory {
		syncWrites = false
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.db == nil {
		if err := rt.openLocked(in, inMemory, syncWrites); err != nil {
			return Store{}, err
		}
		in.OnUnload(rt.teardown)
	} else if inMemory != rt.inMemory || syncWrites != rt.syncWrites {
		in.Logger().Warn("storage options are fixed at first open, restart to apply",
			"in_memory", inMemory, "sync_writes", syncWrites)
	}

	return Store{
		db:       rt.db,
		inMemory: rt.inMemory,
		opened:   rt.opened,
		gets:     &atomic.Int64{},
		sets:     &atomic.Int64{},
	}, nil
}

func (rt *runtime[B]) openLocked(in *snaplet.Init[B, Store], inMemory, syncWrites bool) error {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dataDir := filepath.Join(in.FilePath(), "data")
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return errors.WrapInit(err, in.Name(), "open", "create data directory")
		}
		opts = badger.DefaultOptions(dataDir)
	}
	opts = opts.
		WithSyncWrites(syncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: in.Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return errors.WrapInit(err, in.Name(), "open", "open badger database")
	}

	rt.db = db
	rt.inMemory = inMemory
	rt.syncWrites = syncWrites
	rt.opened = time.Now()

	cfg := in.UserConfig()
	if gcInterval := cfg.GetDuration("gc_interval", defaultGCInterval); gcInterval > 0 && !inMemory {
		rt.gcStop = make(chan struct{})
		rt.gcDone = make(chan struct{})
		go runGC(db, gcInterval, cfg.GetFloat("gc_ratio", defaultGCRatio), in.Logger(), rt.gcStop, rt.gcDone)
	}
	return nil
}

// teardown stops the GC loop and closes the database. It runs once, at
// the tree's final cleanup.
func (rt *runtime[B]) teardown() error {
	rt.mu.Lock()
	db, stop, done := rt.db, rt.gcStop, rt.gcDone
	rt.db, rt.gcStop, rt.gcDone = nil, nil, nil
	rt.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	if db == nil {
		return nil
	}
	return db.Close()
}

// runGC triggers value log garbage collection on a timer. ErrNoRewrite
// means there was nothing to collect.
func runGC(db *badger.DB, interval time.Duration, ratio float64, logger *slog.Logger, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.Warn("value log GC error", "error", err)
			}
		}
	}
}

// badgerLogger adapts the structured logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Get returns the value stored under key, or ErrNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	s.gets.Add(1)

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "kvstore", "Get", "read key")
	}
	return value, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	s.sets.Add(1)

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	return errors.Wrap(err, "kvstore", "Set", "write key")
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	return errors.Wrap(err, "kvstore", "Delete", "delete key")
}

// Keys returns every key in the store, in byte order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "kvstore", "Keys", "iterate keys")
	}
	return keys, nil
}

func getHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Store]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	base := sn.Config().QualifyRoute("get")
	key := strings.TrimPrefix(path.Clean(r.URL.Path), base)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		respond.Error(w, http.StatusBadRequest, "missing key")
		return
	}

	value, err := sn.Value.Get(key)
	if errors.Is(err, ErrNotFound) {
		respond.Error(w, http.StatusNotFound, "key not found")
		return
	}
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "read failed")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(value)
}

func setHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Store]) {
	if r.Method != http.MethodPost {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Key == "" {
		respond.Error(w, http.StatusBadRequest, "missing key")
		return
	}

	if err := sn.Value.Set(body.Key, []byte(body.Value)); err != nil {
		respond.Error(w, http.StatusInternalServerError, "write failed")
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"ok": true, "key": body.Key})
}

func statsHandler(w http.ResponseWriter, r *http.Request, sn *snaplet.Snaplet[Store]) {
	if r.Method != http.MethodGet {
		respond.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	keys, err := sn.Value.Keys()
	if err != nil {
		respond.Error(w, http.StatusInternalServerError, "stats failed")
		return
	}
	lsm, vlog := sn.Value.db.Size()
	respond.JSON(w, http.StatusOK, map[string]any{
		"component": sn.Config().Name(),
		"keys":      len(keys),
		"gets":      sn.Value.gets.Load(),
		"sets":      sn.Value.sets.Load(),
		"in_memory": sn.Value.inMemory,
		"lsm_size":  lsm,
		"vlog_size": vlog,
		"uptime":    time.Since(sn.Value.opened).String(),
	})
}
