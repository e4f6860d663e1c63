package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"

	"github.com/tdisawas0github/project-os/internal/fsatomic"
)

const (
	sealName      = "nasctl_session"
	masterKeySize = 32
)

// Sealer authenticates and encrypts the persisted token so a copied state
// directory is useless without its key file.
type Sealer struct {
	sc *securecookie.SecureCookie
}

// NewSealer derives an HMAC key and an AES-256 key from master.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) < masterKeySize {
		return nil, fmt.Errorf("tokenstore: master key must be at least %d bytes", masterKeySize)
	}
	hashKey, err := derive(master, "nasctl session hmac", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := derive(master, "nasctl session aes", 32)
	if err != nil {
		return nil, err
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// The token's lifetime is the server's business.
	sc.MaxAge(0)
	return &Sealer{sc: sc}, nil
}

func (s *Sealer) Seal(token string) (string, error) {
	return s.sc.Encode(sealName, token)
}

func (s *Sealer) Open(value string) (string, error) {
	var token string
	if err := s.sc.Decode(sealName, value, &token); err != nil {
		return "", err
	}
	return token, nil
}

func derive(master []byte, info string, n int) ([]byte, error) {
	out := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadOrCreateKey returns the hex-encoded master key stored at path, creating
// a random one (mode 0600) on first use.
func LoadOrCreateKey(ctx context.Context, path string) ([]byte, error) {
	var key []byte
	err := fsatomic.WithLock(path, func() error {
		data, ok, err := fsatomic.ReadFile(path)
		if err != nil {
			return err
		}
		if ok {
			key, err = hex.DecodeString(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("tokenstore: key file %s: %w", path, err)
			}
			if len(key) < masterKeySize {
				return fmt.Errorf("tokenstore: key file %s is too short", path)
			}
			return nil
		}
		key = securecookie.GenerateRandomKey(masterKeySize)
		if key == nil {
			return errors.New("tokenstore: could not generate key")
		}
		return fsatomic.WriteFile(ctx, path, []byte(hex.EncodeToString(key)+"\n"), fsatomic.DefaultPerm)
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}
