// Package tokenstore persists session token bundles on disk and checks
// whether a stored session is still accepted by the upstream service.
package tokenstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/rkozlov/garmin-headless-auth/internal/connect"
)

// ErrNotFound is returned by Load when no persisted bundle exists.
var ErrNotFound = errors.New("no stored session bundle")

// Token file names inside the bundle directory. The layout matches what
// the upstream client libraries historically dumped, so existing bundles
// keep working.
const (
	oauth1File = "oauth1_token.json"
	oauth2File = "oauth2_token.json"
)

// Store persists exactly one session bundle: a directory of token files
// plus an optional single-file base64 companion. A save overwrites the
// previous bundle; there is never more than one active session on disk.
type Store struct {
	dir        string
	base64Path string
}

// New creates a store rooted at dir. base64Path may be empty to skip
// the companion bundle.
func New(dir, base64Path string) *Store {
	return &Store{dir: dir, base64Path: base64Path}
}

// Load reads the stored bundle. It returns ErrNotFound when the directory
// does not exist or exists but holds no token files. An empty directory is
// removed so that a later fresh login does not trip over the placeholder.
func (s *Store) Load() (*connect.Session, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read token directory: %w", err)
	}

	if len(entries) == 0 {
		// A leftover empty directory confuses the login flow on retry;
		// drop it and report the bundle as absent.
		if err := os.Remove(s.dir); err != nil {
			slog.Warn("failed to remove empty token directory", "path", s.dir, "error", err)
		}
		return nil, ErrNotFound
	}

	sess := &connect.Session{}

	oauth2, err := os.ReadFile(filepath.Join(s.dir, oauth2File))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read oauth2 token: %w", err)
	}
	sess.OAuth2 = oauth2

	if oauth1, err := os.ReadFile(filepath.Join(s.dir, oauth1File)); err == nil {
		sess.OAuth1 = oauth1
	}

	if info, err := os.Stat(filepath.Join(s.dir, oauth2File)); err == nil {
		sess.CreatedAt = info.ModTime()
	}

	return sess, nil
}

// Save persists the bundle, overwriting any prior one. Each file is
// written to a temp name and renamed so a concurrent reader never sees a
// partially written token.
func (s *Store) Save(sess *connect.Session) error {
	if sess == nil || len(sess.OAuth2) == 0 {
		return fmt.Errorf("refusing to save session without oauth2 token")
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	if len(sess.OAuth1) > 0 {
		if err := writeFileAtomic(filepath.Join(s.dir, oauth1File), sess.OAuth1); err != nil {
			return err
		}
	}
	if err := writeFileAtomic(filepath.Join(s.dir, oauth2File), sess.OAuth2); err != nil {
		return err
	}

	if s.base64Path != "" {
		if err := s.saveBase64(sess); err != nil {
			return err
		}
	}

	slog.Info("session bundle saved", "path", s.dir)
	return nil
}

// Validate performs a cheap authenticated upstream call to confirm the
// session is still accepted. Any transport or auth error means the session
// is not trusted; errors never propagate past this boundary.
func (s *Store) Validate(ctx context.Context, client connect.Client, sess *connect.Session) bool {
	if sess == nil {
		return false
	}

	name, err := client.ProfileName(ctx, sess)
	if err != nil {
		slog.Debug("stored session rejected by upstream", "error", err)
		return false
	}

	slog.Debug("stored session validated", "profile", name)
	return true
}

// saveBase64 writes the single-file companion bundle: the JSON-encoded
// session, base64 encoded. Some deployments mount this one file instead
// of the directory.
func (s *Store) saveBase64(sess *connect.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session bundle: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)
	return writeFileAtomic(s.base64Path, []byte(encoded))
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place with 0600 permissions.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set token file permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to finalize token file: %w", err)
	}
	return nil
}

// Age returns how old the stored bundle is, or false when no bundle exists.
func (s *Store) Age(now time.Time) (time.Duration, bool) {
	info, err := os.Stat(filepath.Join(s.dir, oauth2File))
	if err != nil {
		return 0, false
	}
	return now.Sub(info.ModTime()), true
}
