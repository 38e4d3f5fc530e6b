package runner

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"browserbridge/internal/adapter/browser"
	"browserbridge/internal/domain"
	"browserbridge/internal/registry"
)

// fakeSession records calls so tests can assert teardown behavior.
type fakeSession struct {
	mu        sync.Mutex
	navigated []string
	closed    int

	navErr  error
	shotErr error
	img     []byte
}

func (s *fakeSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return s.navErr
}

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shotErr != nil {
		return nil, s.shotErr
	}
	return s.img, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeBackend struct {
	mu         sync.Mutex
	acquireErr error
	navErr     error
	shotErr    error
	sessions   []*fakeSession
	opts       []browser.Options
}

func (b *fakeBackend) Acquire(_ context.Context, opts browser.Options) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = append(b.opts, opts)
	if b.acquireErr != nil {
		return nil, b.acquireErr
	}
	s := &fakeSession{navErr: b.navErr, shotErr: b.shotErr, img: []byte("jpeg-bytes")}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) Name() string { return "fake" }

func newTestRunner(t *testing.T, backend *fakeBackend) (*Runner, *registry.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	runs, err := registry.NewStore(t.TempDir(), log)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return New(backend, runs, 0, "about:blank", log), runs
}

// waitTerminal polls until the run reaches a terminal phase.
func waitTerminal(t *testing.T, runs *registry.Store, id string) *domain.Run {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := runs.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if run.Phase.Terminal() {
			return run
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal phase")
	return nil
}

func TestRunFinishes(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindTask, "go to https://example.com and read the title")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	if got.Phase != domain.PhaseFinished {
		t.Fatalf("Phase = %s (%s), want finished", got.Phase, got.Error)
	}
	if got.TargetURL != "https://example.com" {
		t.Errorf("TargetURL = %q", got.TargetURL)
	}
	if got.ScreenshotPath == "" {
		t.Error("artifact path missing from record")
	}
	img, err := runs.Screenshot(run.ID)
	if err != nil {
		t.Fatalf("Screenshot: %v", err)
	}
	if string(img) != "jpeg-bytes" {
		t.Errorf("screenshot bytes = %q", img)
	}
	if n := backend.sessions[0].closeCount(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
}

func TestRunSearchFallback(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindTask, "find cheapest flights to Tokyo")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	want := "https://www.google.com/search?q=find+cheapest+flights+to+Tokyo"
	if got.TargetURL != want {
		t.Errorf("TargetURL = %q, want %q", got.TargetURL, want)
	}
	if nav := backend.sessions[0].navigated; len(nav) != 1 || nav[0] != want {
		t.Errorf("navigated = %v", nav)
	}
}

func TestAcquireFailureRecordsError(t *testing.T) {
	backend := &fakeBackend{acquireErr: errors.New("chrome missing")}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindTask, "anything")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	if got.Phase != domain.PhaseError {
		t.Fatalf("Phase = %s, want error", got.Phase)
	}
	if !strings.Contains(got.Error, "chrome missing") {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestNavigateFailureStillClosesBrowser(t *testing.T) {
	backend := &fakeBackend{navErr: errors.New("dns failure")}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindTask, "https://unreachable.example")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	if got.Phase != domain.PhaseError {
		t.Fatalf("Phase = %s, want error", got.Phase)
	}
	if got.Error == "" {
		t.Error("error message missing")
	}
	if n := backend.sessions[0].closeCount(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
}

func TestScreenshotFailureStillClosesBrowser(t *testing.T) {
	backend := &fakeBackend{shotErr: errors.New("capture failed")}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindTask, "https://example.com")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	if got.Phase != domain.PhaseError {
		t.Fatalf("Phase = %s, want error", got.Phase)
	}
	if n := backend.sessions[0].closeCount(); n != 1 {
		t.Errorf("browser closed %d times, want 1", n)
	}
	if _, err := runs.Screenshot(run.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("no artifact should exist, got err = %v", err)
	}
}

func TestProfileDirUsedAsWorkDir(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	profileDir := t.TempDir()
	run, _ := runs.Create(domain.KindTask, "https://example.com")
	r.Dispatch(run, profileDir, nil)

	got := waitTerminal(t, runs, run.ID)
	if got.WorkDir != profileDir {
		t.Errorf("WorkDir = %q, want %q", got.WorkDir, profileDir)
	}
	if backend.opts[0].WorkDir != profileDir {
		t.Errorf("backend WorkDir = %q", backend.opts[0].WorkDir)
	}
}

func TestProxyPassedThrough(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	proxy := &domain.ProxyDescriptor{Server: "http://proxy:3128", Username: "u", Password: "p"}
	run, _ := runs.Create(domain.KindTask, "https://example.com")
	r.Dispatch(run, "", proxy)

	got := waitTerminal(t, runs, run.ID)
	if backend.opts[0].Proxy != proxy {
		t.Errorf("proxy not passed through unmodified")
	}

	// The proxy must never land in the persisted record.
	data, err := os.ReadFile(filepath.Join(got.WorkDir, "..", "status.json"))
	if err != nil {
		t.Fatalf("read status file: %v", err)
	}
	if strings.Contains(string(data), "proxy") || strings.Contains(string(data), "3128") {
		t.Errorf("proxy leaked into status record: %s", data)
	}
}

func TestSessionRunOpensStartURL(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	run, _ := runs.Create(domain.KindSession, "")
	r.Dispatch(run, "", nil)

	got := waitTerminal(t, runs, run.ID)
	if got.TargetURL != "about:blank" {
		t.Errorf("TargetURL = %q, want about:blank", got.TargetURL)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	backend := &fakeBackend{}
	r, runs := newTestRunner(t, backend)

	a, _ := runs.Create(domain.KindTask, "https://a.example")
	b, _ := runs.Create(domain.KindTask, "https://b.example")
	r.Dispatch(a, "", nil)
	r.Dispatch(b, "", nil)

	ga := waitTerminal(t, runs, a.ID)
	gb := waitTerminal(t, runs, b.ID)

	if ga.WorkDir == gb.WorkDir {
		t.Errorf("concurrent runs share a work dir: %q", ga.WorkDir)
	}
	if ga.Phase != domain.PhaseFinished || gb.Phase != domain.PhaseFinished {
		t.Errorf("phases = %s, %s", ga.Phase, gb.Phase)
	}
}
