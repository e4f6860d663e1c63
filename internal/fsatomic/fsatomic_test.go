package fsatomic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type record struct {
	Writer int    `json:"writer"`
	Value  string `json:"value"`
}

// Writers of very different sizes race readers; a reader must only ever see a
// whole record from one writer.
func TestReadersNeverSeeTornRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := SaveJSON(context.Background(), path, record{Writer: -1, Value: "seed"}, 0); err != nil {
		t.Fatal(err)
	}

	var writers, readers sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan error, 64)
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < 25; i++ {
				rec := record{Writer: w, Value: strings.Repeat(string(rune('a'+w)), 1+w*4096)}
				if err := WithLock(path, func() error { return SaveJSON(context.Background(), path, rec, 0) }); err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	for r := 0; r < 2; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				b, ok, err := ReadFile(path)
				if err != nil || !ok {
					errs <- fmt.Errorf("read: ok=%v err=%v", ok, err)
					return
				}
				var rec record
				if err := json.Unmarshal(b, &rec); err != nil {
					errs <- fmt.Errorf("torn record (%d bytes): %w", len(b), err)
					return
				}
				if rec.Writer >= 0 && rec.Value != strings.Repeat(string(rune('a'+rec.Writer)), 1+rec.Writer*4096) {
					errs <- fmt.Errorf("record from writer %d has mixed content", rec.Writer)
					return
				}
			}
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestLoadAfterCrashedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	if err := SaveJSON(context.Background(), path, record{Writer: 1, Value: "kept"}, 0o600); err != nil {
		t.Fatal(err)
	}
	// A write that died before rename leaves only the tmp file behind.
	if err := os.WriteFile(path+".tmp", []byte(`{"writer":2,"val`), 0o600); err != nil {
		t.Fatal(err)
	}
	var got record
	ok, err := LoadJSON(path, &got)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if got.Writer != 1 || got.Value != "kept" {
		t.Fatalf("got %+v, want the last complete record", got)
	}

	if err := WithLock(path, func() error { return SaveJSON(context.Background(), path, record{Writer: 3, Value: "next"}, 0) }); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("leftover tmp not replaced by the next write, err=%v", err)
	}
	if ok, err := LoadJSON(path, &got); err != nil || !ok || got.Value != "next" {
		t.Fatalf("after next write: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestMissingAndRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	if _, ok, err := ReadFile(path); err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}
	if err := WriteFile(context.Background(), path, []byte("x"), 0); err != nil {
		t.Fatalf("write: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if st.Mode().Perm() != DefaultPerm && os.PathSeparator == '/' {
		t.Fatalf("perm = %v", st.Mode().Perm())
	}
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("second remove: %v", err)
	}
	if _, ok, _ := ReadFile(path); ok {
		t.Fatal("file still present")
	}
}

func TestWriteFileHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := filepath.Join(t.TempDir(), "session.json")
	if err := WriteFile(ctx, path, []byte("x"), 0); err == nil {
		t.Fatal("expected context error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should not exist, err=%v", err)
	}
}

func TestWithLockGivesUpOnHeldLock(t *testing.T) {
	prev := lockTimeout
	lockTimeout = 100 * time.Millisecond
	t.Cleanup(func() { lockTimeout = prev })

	path := filepath.Join(t.TempDir(), "session.json")
	unlock, err := flockExclusive(path + ".lock")
	if err != nil {
		t.Fatal(err)
	}
	ran := false
	err = WithLock(path, func() error { ran = true; return nil })
	if !errors.Is(err, ErrLockTimeout) || ran {
		t.Fatalf("expected ErrLockTimeout without running fn, got %v ran=%v", err, ran)
	}

	// once released, a waiting writer gets through
	lockTimeout = 2 * time.Second
	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()
	if err := WithLock(path, func() error { ran = true; return nil }); err != nil || !ran {
		t.Fatalf("lock after release: %v ran=%v", err, ran)
	}
}
