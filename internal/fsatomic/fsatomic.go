// Package fsatomic persists small state files (the console's session record
// and its sealing key) so that a crash never leaves a half-written file behind.
package fsatomic

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultPerm is applied when callers pass a zero mode. Session material is
// owner-only.
const DefaultPerm fs.FileMode = 0o600

// ErrLockTimeout is returned by WithLock when another process kept the lock
// for longer than lockTimeout.
var ErrLockTimeout = errors.New("fsatomic: timed out waiting for lock")

var (
	lockTimeout = 5 * time.Second
	lockPoll    = 25 * time.Millisecond
)

// WriteFile replaces path with data. The bytes go to path+".tmp" first, are
// fsynced, renamed into place and the parent directory is fsynced on both
// sides of the rename. The temp file is removed on any failure.
func WriteFile(ctx context.Context, path string, data []byte, perm fs.FileMode) error {
	if perm == 0 {
		perm = DefaultPerm
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := writeSynced(tmp, data, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := fsyncDir(dir); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := renameWithRetry(ctx, tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return fsyncDir(dir)
}

// SaveJSON writes v as indented JSON with a trailing newline through WriteFile.
func SaveJSON(ctx context.Context, path string, v any, perm fs.FileMode) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return WriteFile(ctx, path, append(b, '\n'), perm)
}

// ReadFile returns the contents of path, or exists=false when it is missing.
// It never touches path+".tmp": that file belongs to whichever writer holds
// the lock, and the next write or Remove replaces a leftover one.
func ReadFile(path string) (data []byte, exists bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// LoadJSON decodes path into v. An empty file counts as existing with no
// content; v is left untouched in that case.
func LoadJSON(path string, v any) (bool, error) {
	data, ok, err := ReadFile(path)
	if err != nil || !ok {
		return false, err
	}
	if len(data) == 0 {
		return true, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, err
	}
	return true, nil
}

// Remove deletes path and any temp artifact. Removing a missing file is not an
// error.
func Remove(path string) error {
	_ = os.Remove(path + ".tmp")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fsyncDir(filepath.Dir(path))
}

// WithLock runs fn while holding an exclusive advisory lock on path+".lock".
// Keep fn short: other console processes wait on the same lock and give up
// with ErrLockTimeout.
func WithLock(path string, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	unlock, err := flockExclusive(path + ".lock")
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

func writeSynced(path string, data []byte, perm fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// renameWithRetry moves tmp over path. Windows refuses to replace a file that
// is open elsewhere, so there the destination is removed and the rename
// retried a few times.
func renameWithRetry(ctx context.Context, tmp, path string) error {
	var err error
	for i := 0; i < 5; i++ {
		if err = os.Rename(tmp, path); err == nil {
			return nil
		}
		if runtime.GOOS != "windows" {
			return err
		}
		_ = os.Remove(path)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(10*(i+1)) * time.Millisecond):
		}
	}
	return errors.New("fsatomic: rename failed after retries: " + err.Error())
}

// fsyncDir persists directory metadata; no-op on Windows.
func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
