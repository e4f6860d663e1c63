package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tdisawas0github/project-os/internal/fsatomic"
)

const recordVersion = 1

type record struct {
	Version int    `json:"version"`
	Key     string `json:"key"`
	Value   string `json:"value"`
	Sealed  bool   `json:"sealed"`
	SavedAt string `json:"saved_at"`
}

// File stores the token in a small JSON record on disk. Writes are atomic and
// serialised across processes with an advisory lock. When a Sealer is set the
// value is encrypted and authenticated; otherwise it is stored as is.
type File struct {
	path   string
	key    string
	sealer *Sealer
	log    zerolog.Logger
	now    func() time.Time
}

type FileOption func(*File)

// WithSealer encrypts the stored value.
func WithSealer(s *Sealer) FileOption { return func(f *File) { f.sealer = s } }

// WithKey overrides DefaultKey.
func WithKey(key string) FileOption { return func(f *File) { f.key = key } }

func WithLogger(l zerolog.Logger) FileOption { return func(f *File) { f.log = l } }

// NewFile returns a File store at path.
func NewFile(path string, opts ...FileOption) *File {
	f := &File{path: path, key: DefaultKey, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Path is the record location.
func (f *File) Path() string { return f.path }

func (f *File) Load(ctx context.Context) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	var rec record
	ok, err := fsatomic.LoadJSON(f.path, &rec)
	if err != nil {
		if ok {
			return "", false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return "", false, err
	}
	if !ok || rec.Value == "" {
		return "", false, nil
	}
	if rec.Key != f.key {
		return "", false, fmt.Errorf("%w: key %q, want %q", ErrCorrupt, rec.Key, f.key)
	}
	if !rec.Sealed {
		if f.sealer != nil {
			f.log.Warn().Str("path", f.path).Msg("session record is not sealed")
		}
		return rec.Value, true, nil
	}
	if f.sealer == nil {
		return "", false, fmt.Errorf("%w: record is sealed but no key is configured", ErrCorrupt)
	}
	token, err := f.sealer.Open(rec.Value)
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return token, true, nil
}

func (f *File) Save(ctx context.Context, token string) error {
	rec := record{Version: recordVersion, Key: f.key, Value: token, SavedAt: f.now().UTC().Format(time.RFC3339)}
	if f.sealer != nil {
		sealed, err := f.sealer.Seal(token)
		if err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
		rec.Value, rec.Sealed = sealed, true
	}
	return fsatomic.WithLock(f.path, func() error {
		return fsatomic.SaveJSON(ctx, f.path, rec, fsatomic.DefaultPerm)
	})
}

func (f *File) Clear(ctx context.Context) error {
	return fsatomic.WithLock(f.path, func() error {
		return fsatomic.Remove(f.path)
	})
}
