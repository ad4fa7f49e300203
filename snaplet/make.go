package snaplet

import (
	"os"
	"path/filepath"

	"github.com/uffizio/snap/errors"
	"github.com/uffizio/snap/pkg/dircopy"
)

// InitFunc builds a component's state. It runs exactly once per
// initialization attempt, inside the metadata scope the engine prepared
// for the component.
type InitFunc[B, V any] func(*Init[B, V]) (V, error)

// ReferenceFunc locates a directory of reference files for a component.
// When it returns a non-empty path, the engine copies any file missing
// from the component's data directory out of it before the bootstrap
// runs. Existing files are never touched, so operator edits survive.
type ReferenceFunc func() (string, error)

// Bootstrap is a recipe for installing one component. Values are cheap to
// copy and safe to reuse: installing the same Bootstrap at two places in
// a tree (or in two trees) yields independent components.
type Bootstrap[B, V any] struct {
	defaultID   string
	description string
	reference   ReferenceFunc
	run         InitFunc[B, V]
	name        string
}

// Make builds a Bootstrap from a default id, a description, an optional
// reference-directory locator and the author's initialization function.
func Make[B, V any](defaultID, description string, reference ReferenceFunc, run InitFunc[B, V]) Bootstrap[B, V] {
	return Bootstrap[B, V]{
		defaultID:   defaultID,
		description: description,
		reference:   reference,
		run:         run,
	}
}

// Name returns a copy of b that installs under the given id instead of
// its default. The innermost Name wins when several are stacked, so a
// component author's choice survives later rewrapping.
func Name[B, V any](name string, b Bootstrap[B, V]) Bootstrap[B, V] {
	if name != "" && b.name == "" {
		b.name = name
	}
	return b
}

// install runs the engine's side of one component installation: resolve
// the id, derive the data directory, narrow the config namespace, lay
// down reference files, merge snaplet.cfg, then hand over to the author's
// bootstrap. The caller owns bracketing of the walk state.
func install[B, V any](in *Init[B, V], b Bootstrap[B, V]) (*Snaplet[V], error) {
	w := in.walk
	if b.run == nil {
		return nil, errors.WrapContract(errors.ErrNilBootstrap, "snaplet", "install", "check bootstrap")
	}

	if b.name != "" {
		w.cur.id = b.name
	} else if w.cur.id == "" {
		w.cur.id = b.defaultID
	}
	if w.cur.id == "" {
		return nil, errors.WrapContract(errors.ErrIDUnset, "snaplet", "install", "resolve component id")
	}

	top := w.isTopLevel
	w.isTopLevel = false
	if !top {
		w.cur.filePath = filepath.Join(w.cur.filePath, "snaplets", w.cur.id)
		w.cur.userConfig = w.cur.UserConfig().Sub(w.cur.id)
	}
	w.cur.description = b.description

	in.logInstall()

	if b.reference != nil {
		refDir, err := b.reference()
		if err != nil {
			return nil, errors.WrapInit(err, w.cur.id, "install", "locate reference directory")
		}
		if refDir != "" {
			if err := os.MkdirAll(w.cur.filePath, 0o755); err != nil {
				return nil, errors.WrapInit(err, w.cur.id, "install", "create data directory")
			}
			if err := dircopy.CopyIfAbsent(refDir, w.cur.filePath); err != nil {
				return nil, errors.WrapInit(err, w.cur.id, "install", "copy reference files")
			}
		}
	}

	merged, err := w.cur.UserConfig().MergeFile(filepath.Join(w.cur.filePath, "snaplet.cfg"))
	if err != nil {
		return nil, errors.WrapInit(err, w.cur.id, "install", "merge snaplet.cfg")
	}
	w.cur.userConfig = merged

	value, err := b.run(in)
	if err != nil {
		return nil, errors.Wrap(err, w.cur.id, "install", "run bootstrap")
	}

	return &Snaplet[V]{cfg: in.snapshotConfig(), Value: value}, nil
}
