// Package dircopy materializes reference directory trees on disk.
//
// The snaplet bootstrap uses it to install a component's reference content
// (default templates, seed data, example snaplet.cfg) into the component's
// data directory on first run. Copying is per-file copy-if-absent, so a
// second run never clobbers files the operator has edited, and new files
// added to the reference tree still land next to the edited ones.
//
// Usage:
//
//	if err := dircopy.CopyIfAbsent(referenceDir, snapletDir); err != nil {
//	    return err
//	}
package dircopy

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// dirPerm is applied to directories created under the destination.
const dirPerm = 0o755

// CopyIfAbsent recursively copies src into dst. Directories are created as
// needed; regular files are copied only when the destination file does not
// exist yet. Symlinks and other irregular entries are skipped. The
// operation is idempotent: running it twice with the same inputs leaves
// the destination unchanged.
func CopyIfAbsent(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source %s: %w", src, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, dirPerm)
		}

		if !d.Type().IsRegular() {
			return nil
		}

		return copyFileIfAbsent(path, target)
	})
}

// copyFileIfAbsent copies one regular file unless the target already exists.
func copyFileIfAbsent(src, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat target %s: %w", dst, err)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat open source %s: %w", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return fmt.Errorf("create target directory for %s: %w", dst, err)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create target %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy %s: %w", dst, err)
	}

	return out.Close()
}
