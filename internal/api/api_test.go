package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"browserbridge/internal/adapter/browser"
	"browserbridge/internal/domain"
	"browserbridge/internal/infra/config"
	"browserbridge/internal/profile"
	"browserbridge/internal/registry"
	"browserbridge/internal/runner"
)

type fakeSession struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSession) Navigate(context.Context, string) error { return nil }

func (s *fakeSession) Screenshot(context.Context) ([]byte, error) {
	return []byte("jpeg-bytes"), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type fakeBackend struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (b *fakeBackend) Acquire(_ context.Context, opts browser.Options) (browser.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// The browser writes into its working directory; leave a marker so
	// profile materialization has something to copy.
	if opts.WorkDir != "" {
		os.WriteFile(filepath.Join(opts.WorkDir, "Cookies"), []byte("crumbs"), 0600)
	}
	s := &fakeSession{}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBackend) Name() string { return "fake" }

type testHarness struct {
	ts       *httptest.Server
	token    string
	runs     *registry.Store
	profiles *profile.Store
}

func newHarness(t *testing.T, token string, register func(*Server)) *testHarness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	dataDir := t.TempDir()

	runs, err := registry.NewStore(filepath.Join(dataDir, "runs"), log)
	if err != nil {
		t.Fatalf("registry.NewStore: %v", err)
	}
	profiles, err := profile.NewStore(filepath.Join(dataDir, "profiles"), log)
	if err != nil {
		t.Fatalf("profile.NewStore: %v", err)
	}

	r := runner.New(&fakeBackend{}, runs, 0, "about:blank", log)

	srv := NewServer(config.ServerConfig{
		AuthToken:       token,
		RateLimitPerMin: 6000,
		RateLimitBurst:  100,
	}, Deps{Runs: runs, Profiles: profiles, Runner: r, Logger: log})
	register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)

	return &testHarness{ts: ts, token: token, runs: runs, profiles: profiles}
}

func (h *testHarness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func (h *testHarness) pollFinished(t *testing.T, statusPath string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp := h.do(t, http.MethodGet, statusPath, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", statusPath, resp.StatusCode)
		}
		var run map[string]any
		decode(t, resp, &run)
		switch run["phase"] {
		case "finished":
			return run
		case "error":
			t.Fatalf("run failed: %v", run["error"])
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never finished")
	return nil
}

func TestTaskLifecycle(t *testing.T) {
	h := newHarness(t, "secret-token", (*Server).RegisterTaskRoutes)

	resp := h.do(t, http.MethodPost, "/run-task", map[string]string{
		"task": "go to https://example.com and read the title",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /run-task = %d", resp.StatusCode)
	}
	var created runTaskResponse
	decode(t, resp, &created)
	if created.RunID == "" {
		t.Fatal("run_id missing")
	}

	// The record must be pollable the moment the id is handed out.
	resp = h.do(t, http.MethodGet, created.StatusURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status right after create = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	run := h.pollFinished(t, created.StatusURL)
	if run["target_url"] != "https://example.com" {
		t.Errorf("target_url = %v", run["target_url"])
	}

	resp = h.do(t, http.MethodGet, created.ScreenshotURL, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET screenshot = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	img, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(img) != "jpeg-bytes" {
		t.Errorf("screenshot body = %q", img)
	}
}

func TestRunTaskValidation(t *testing.T) {
	h := newHarness(t, "", (*Server).RegisterTaskRoutes)

	resp := h.do(t, http.MethodPost, "/run-task", map[string]string{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty task = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = h.do(t, http.MethodPost, "/run-task", map[string]string{
		"task":       "anything",
		"profile_id": "no-such-profile",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown profile = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUnknownRunIs404(t *testing.T) {
	h := newHarness(t, "", (*Server).RegisterTaskRoutes)

	for _, path := range []string{
		"/runs/01JUNKJUNKJUNKJUNKJUNKJUNK/status",
		"/runs/01JUNKJUNKJUNKJUNKJUNKJUNK/screenshot",
	} {
		resp := h.do(t, http.MethodGet, path, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s = %d, want 404", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestBearerAuthGate(t *testing.T) {
	h := newHarness(t, "secret-token", (*Server).RegisterTaskRoutes)

	req, _ := http.NewRequest(http.MethodPost, h.ts.URL+"/run-task",
		strings.NewReader(`{"task":"anything"}`))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodPost, h.ts.URL+"/run-task",
		strings.NewReader(`{"task":"anything"}`))
	req.Header.Set("Authorization", "Bearer wrong-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	// Health stays reachable for probes that carry no credentials.
	resp, err = http.Get(h.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestSessionLifecycle(t *testing.T) {
	h := newHarness(t, "secret-token", (*Server).RegisterSessionRoutes)

	resp := h.do(t, http.MethodPost, "/sessions", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /sessions = %d", resp.StatusCode)
	}
	var created createSessionResponse
	decode(t, resp, &created)
	if created.SessionID == "" || created.LiveViewURL == "" {
		t.Fatalf("incomplete response: %+v", created)
	}

	// The live view falls back to the status record until a screenshot
	// exists, then serves the image. Poll until the image shows up.
	deadline := time.Now().Add(5 * time.Second)
	var gotImage bool
	for time.Now().Before(deadline) {
		resp = h.do(t, http.MethodGet, created.LiveViewURL, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET live = %d", resp.StatusCode)
		}
		ct := resp.Header.Get("Content-Type")
		resp.Body.Close()
		if ct == "image/jpeg" {
			gotImage = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !gotImage {
		t.Fatal("live view never served a screenshot")
	}

	resp = h.do(t, http.MethodPost, fmt.Sprintf("/sessions/%s/complete", created.SessionID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST complete = %d", resp.StatusCode)
	}
	var completed completeSessionResponse
	decode(t, resp, &completed)
	if completed.ProfileID == "" {
		t.Fatal("profile_id missing")
	}

	resp = h.do(t, http.MethodGet, "/profiles/"+completed.ProfileID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET profile archive = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}
	resp.Body.Close()

	resp = h.do(t, http.MethodDelete, "/profiles/"+completed.ProfileID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE profile = %d", resp.StatusCode)
	}
	var deleted deleteProfileResponse
	decode(t, resp, &deleted)
	if !deleted.Deleted {
		t.Error("deleted flag not set")
	}

	resp = h.do(t, http.MethodGet, "/profiles/"+completed.ProfileID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("archive after delete = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCompletedProfileSeedsNextRun(t *testing.T) {
	h := newHarness(t, "", (*Server).RegisterSessionRoutes)

	resp := h.do(t, http.MethodPost, "/sessions", nil)
	var created createSessionResponse
	decode(t, resp, &created)

	h.waitTerminal(t, created.SessionID)

	resp = h.do(t, http.MethodPost, fmt.Sprintf("/sessions/%s/complete", created.SessionID), nil)
	var completed completeSessionResponse
	decode(t, resp, &completed)

	dir, err := h.profiles.Dir(completed.ProfileID)
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "Cookies"))
	if err != nil {
		t.Fatalf("session state not copied into profile: %v", err)
	}
	if string(data) != "crumbs" {
		t.Errorf("profile content = %q", data)
	}
}

func (h *testHarness) waitTerminal(t *testing.T, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := h.runs.Get(id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if run.Phase.Terminal() {
			if run.Phase == domain.PhaseError {
				t.Fatalf("run failed: %s", run.Error)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never reached a terminal phase")
}
