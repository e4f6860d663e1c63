//go:build windows

package fsatomic

import (
	"errors"
	"os"
	"sync"
	"time"
)

// staleLock is how old a lock file must be before it is taken to belong to a
// nasctl process that crashed while holding it. Session writes take
// milliseconds.
const staleLock = 30 * time.Second

// flockExclusive approximates an advisory lock by creating lockPath
// exclusively, polling until the holder removes it or lockTimeout passes.
func flockExclusive(lockPath string) (func(), error) {
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
		if err == nil {
			var once sync.Once
			return func() {
				once.Do(func() {
					_ = f.Close()
					_ = os.Remove(lockPath)
				})
			}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		if st, serr := os.Stat(lockPath); serr == nil && time.Since(st.ModTime()) > staleLock {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Now().After(deadline) {
			return nil, &os.PathError{Op: "lock", Path: lockPath, Err: ErrLockTimeout}
		}
		time.Sleep(lockPoll)
	}
}
