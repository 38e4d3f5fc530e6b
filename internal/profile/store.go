// Package profile persists named browser working directories (cookies,
// local storage) so later runs can reuse a logged-in session. A profile is
// immutable once materialized; the only mutation is full deletion.
// Profiles are never garbage-collected.
package profile

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/oklog/ulid/v2"

	"browserbridge/internal/domain"
)

// Store manages profiles under a single root directory: profiles/<id>/
// for the directory itself and profiles/<id>.zip for the cached archive.
type Store struct {
	dir    string
	logger *slog.Logger
}

// NewStore creates a profile store rooted at dir.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("profilestore: create dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Materialize copies a session's working directory into a new permanent
// profile and returns its id. A session that never produced a working
// directory yields a valid empty profile rather than an error.
func (s *Store) Materialize(srcDir string) (string, error) {
	id := newID()
	dst := s.profileDir(id)
	if err := os.MkdirAll(dst, 0700); err != nil {
		return "", domain.WrapOp("profilestore: create profile dir", err)
	}

	if srcDir != "" {
		if _, err := os.Stat(srcDir); err == nil {
			if err := copyTree(srcDir, dst); err != nil {
				return "", domain.WrapOp("profilestore: copy session dir", err)
			}
		}
	}

	s.logger.Info("profile materialized", "profile_id", id, "source", srcDir)
	return id, nil
}

// Dir returns the directory for an existing profile, or domain.ErrNotFound.
func (s *Store) Dir(id string) (string, error) {
	dir := s.profileDir(id)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("profile %q: %w", id, domain.ErrNotFound)
	}
	return dir, nil
}

// Archive packages the profile directory as a zip and returns its bytes.
// The archive is regenerated on every request, overwriting any stale
// cached archive for the id.
func (s *Store) Archive(id string) ([]byte, error) {
	dir, err := s.Dir(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(s.archivePath(id))
	if err != nil {
		return nil, domain.WrapOp("profilestore: create archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if info.IsDir() {
			_, err := zw.Create(rel + "/")
			return err
		}
		if !info.Mode().IsRegular() {
			// Chrome profiles contain sockets and singleton symlinks.
			return nil
		}
		w, err := zw.Create(rel)
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return nil, domain.WrapOp("profilestore: build archive", err)
	}
	if err := zw.Close(); err != nil {
		return nil, domain.WrapOp("profilestore: finalize archive", err)
	}

	data, err := os.ReadFile(s.archivePath(id))
	if err != nil {
		return nil, domain.WrapOp("profilestore: read archive", err)
	}
	return data, nil
}

// Delete removes the profile directory and any cached archive.
func (s *Store) Delete(id string) error {
	if _, err := s.Dir(id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.profileDir(id)); err != nil {
		return domain.WrapOp("profilestore: remove dir", err)
	}
	if err := os.Remove(s.archivePath(id)); err != nil && !os.IsNotExist(err) {
		return domain.WrapOp("profilestore: remove archive", err)
	}
	s.logger.Info("profile deleted", "profile_id", id)
	return nil
}

func (s *Store) profileDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *Store) archivePath(id string) string {
	return filepath.Join(s.dir, id+".zip")
}

func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// copyTree copies regular files and directories from src into dst,
// skipping sockets, pipes, and symlinks.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0700)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
