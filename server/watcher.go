package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/health"
)

// configWatcher reloads the tree when watched config files change. File
// paths are watched via their parent directory so rename-and-replace
// writes, the way most editors save, still produce events.
type configWatcher struct {
	paths    []string
	debounce time.Duration
	reload   func(context.Context) (string, error)
	logger   *slog.Logger
	monitor  *health.Monitor
}

func (cw *configWatcher) run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.WrapInit(err, "configWatcher", "run", "create filesystem watcher")
	}
	defer func() { _ = fw.Close() }()

	files := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range cw.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return errors.WrapInit(err, "configWatcher", "run", "resolve watch path")
		}
		if info, statErr := os.Stat(abs); statErr == nil && info.IsDir() {
			if err := fw.Add(abs); err != nil {
				return errors.WrapInit(err, "configWatcher", "run", "watch directory")
			}
			dirs[abs] = true
			continue
		}
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			return errors.WrapInit(err, "configWatcher", "run", "watch parent directory")
		}
		files[abs] = true
	}
	cw.logger.Info("config watcher started", "files", len(files), "dirs", len(dirs))

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevantEvent(ev, files, dirs) {
				continue
			}
			cw.logger.Debug("config change detected", "file", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(cw.debounce)
				timerC = timer.C
			} else {
				timer.Reset(cw.debounce)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			cw.logger.Warn("config watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			cw.fire(ctx)
		}
	}
}

func relevantEvent(ev fsnotify.Event, files, dirs map[string]bool) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	if files[ev.Name] {
		return true
	}
	for dir := range dirs {
		if strings.HasPrefix(ev.Name, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (cw *configWatcher) fire(ctx context.Context) {
	log, err := cw.reload(ctx)
	if err != nil {
		cw.logger.Error("automatic reload failed, previous state kept", "error", err)
		if cw.monitor != nil {
			cw.monitor.Update("reload", health.NewUnhealthyFromError("reload", err))
		}
		return
	}
	cw.logger.Info("automatic reload succeeded", "log_bytes", len(log))
	if cw.monitor != nil {
		cw.monitor.Update("reload", health.NewHealthy("reload", "last reload succeeded"))
	}
}
