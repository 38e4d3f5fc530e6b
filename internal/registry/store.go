// Package registry maps opaque run identifiers to on-disk status records
// and screenshot artifacts. The record for an id returned by Create is
// durable before Create returns, so a concurrent poll never observes
// not-found for a handed-out id. Records are never expired or deleted;
// growth is left to operator cleanup (a known gap, intentionally not
// papered over with a policy the callers never asked for).
package registry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"browserbridge/internal/domain"
)

const (
	statusFile     = "status.json"
	screenshotFile = "screenshot.jpg"
	workDirName    = "userdata"
)

// Store is the run registry. Each run owns runs/<id>/ with its status
// record, screenshot artifact, and browser working directory inside.
type Store struct {
	dir    string
	logger *slog.Logger

	// mu serializes whole-record rewrites for the monotonic-phase check.
	// Per the lifecycle contract only one goroutine writes a given run,
	// but Create/Update from unrelated runs may interleave.
	mu sync.Mutex
}

// NewStore creates a run registry rooted at dir.
func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Create allocates a fresh run with a queued record, durable immediately.
func (s *Store) Create(kind domain.RunKind, task string) (*domain.Run, error) {
	id := newID()
	if err := os.MkdirAll(s.runDir(id), 0700); err != nil {
		return nil, fmt.Errorf("registry: create run dir: %w", err)
	}

	now := time.Now().UTC()
	run := &domain.Run{
		ID:        id,
		Kind:      kind,
		Phase:     domain.PhaseQueued,
		Task:      task,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := writeJSON(s.statusPath(id), run); err != nil {
		return nil, domain.WrapOp("registry: write record", err)
	}

	s.logger.Info("run created", "run_id", id, "kind", kind)
	return run, nil
}

// Get returns the current record for id, or domain.ErrNotFound.
func (s *Store) Get(id string) (*domain.Run, error) {
	data, err := os.ReadFile(s.statusPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %q: %w", id, domain.ErrNotFound)
		}
		return nil, domain.WrapOp("registry: read record", err)
	}

	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, domain.WrapOp("registry: parse record", err)
	}
	return &run, nil
}

// Update replaces the record for run.ID. Writes that would move the phase
// backwards, or away from a terminal phase, are silently dropped so the
// lifecycle stays monotonic even under misuse.
func (s *Store) Update(run *domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Get(run.ID)
	if err != nil {
		return err
	}
	if current.Phase.Terminal() && run.Phase != current.Phase {
		s.logger.Warn("ignoring phase change on terminal run",
			"run_id", run.ID, "from", current.Phase, "to", run.Phase)
		return nil
	}
	if run.Phase.Rank() < current.Phase.Rank() {
		s.logger.Warn("ignoring backwards phase transition",
			"run_id", run.ID, "from", current.Phase, "to", run.Phase)
		return nil
	}

	run.UpdatedAt = time.Now().UTC()
	return writeJSON(s.statusPath(run.ID), run)
}

// SaveScreenshot persists the run's screenshot artifact next to its
// status record and returns the artifact path.
func (s *Store) SaveScreenshot(id string, img []byte) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	path := filepath.Join(s.runDir(id), screenshotFile)
	if err := os.WriteFile(path, img, 0600); err != nil {
		return "", domain.WrapOp("registry: write screenshot", err)
	}
	return path, nil
}

// Screenshot returns the run's screenshot bytes, or domain.ErrNotFound
// when the run is unknown or has not produced one yet.
func (s *Store) Screenshot(id string) ([]byte, error) {
	if _, err := s.Get(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.runDir(id), screenshotFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("screenshot for run %q: %w", id, domain.ErrNotFound)
		}
		return nil, domain.WrapOp("registry: read screenshot", err)
	}
	return data, nil
}

// WorkDir returns the run's browser working directory, creating it on
// first use. Distinct ids map to distinct directories, which is the only
// isolation concurrent runs need.
func (s *Store) WorkDir(id string) (string, error) {
	if _, err := s.Get(id); err != nil {
		return "", err
	}
	dir := filepath.Join(s.runDir(id), workDirName)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", domain.WrapOp("registry: create work dir", err)
	}
	return dir, nil
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.dir, id)
}

func (s *Store) statusPath(id string) string {
	return filepath.Join(s.runDir(id), statusFile)
}

// newID returns an opaque, sortable run identifier.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// writeJSON atomically writes v as indented JSON to path.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return domain.WrapOp("marshal", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return domain.WrapOp("write", err)
	}
	return os.Rename(tmp, path)
}
