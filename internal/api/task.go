package api

import (
	"fmt"
	"net/http"
	"time"

	"browserbridge/internal/domain"
	"browserbridge/internal/proxycheck"
)

type runTaskRequest struct {
	Task      string                  `json:"task"`
	ProfileID string                  `json:"profile_id,omitempty"`
	Proxy     *domain.ProxyDescriptor `json:"proxy,omitempty"`
}

type runTaskResponse struct {
	RunID         string `json:"run_id"`
	StatusURL     string `json:"status_url"`
	ScreenshotURL string `json:"screenshot_url"`
}

type testProxyRequest struct {
	Proxy *domain.ProxyDescriptor `json:"proxy"`
}

// RegisterTaskRoutes wires the task service endpoints onto the mux.
func (s *Server) RegisterTaskRoutes() {
	s.registerHealth("browser-task-bridge")
	s.mux.HandleFunc("POST /run-task", s.handleRunTask)
	s.mux.HandleFunc("POST /test-proxy", s.handleTestProxy)
	s.mux.HandleFunc("GET /runs/{id}/status", s.handleRunStatus)
	s.mux.HandleFunc("GET /runs/{id}/screenshot", s.handleRunScreenshot)
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	var req runTaskRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	profileDir, ok := s.resolveProfileDir(w, req.ProfileID)
	if !ok {
		return
	}

	run, err := s.deps.Runs.Create(domain.KindTask, req.Task)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// From here the caller observes the run only through polling; errors
	// during execution land in the record, never in a response.
	s.deps.Runner.Dispatch(run, profileDir, req.Proxy)

	writeJSON(w, http.StatusOK, runTaskResponse{
		RunID:         run.ID,
		StatusURL:     fmt.Sprintf("/runs/%s/status", run.ID),
		ScreenshotURL: fmt.Sprintf("/runs/%s/screenshot", run.ID),
	})
}

// handleTestProxy probes the proxy over plain HTTP first, then dispatches
// a normal run that navigates to the IP-echo page through it. The probe
// failure is the only synchronous signal; the browser-level result is
// polled like any other run.
func (s *Server) handleTestProxy(w http.ResponseWriter, r *http.Request) {
	var req testProxyRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Proxy == nil || req.Proxy.Server == "" {
		writeError(w, http.StatusBadRequest, "proxy.server is required")
		return
	}

	if err := proxycheck.Probe(r.Context(), req.Proxy, 15*time.Second); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	run, err := s.deps.Runs.Create(domain.KindTask, proxycheck.ProbeURL)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.deps.Runner.Dispatch(run, "", req.Proxy)

	writeJSON(w, http.StatusOK, runTaskResponse{
		RunID:         run.ID,
		StatusURL:     fmt.Sprintf("/runs/%s/status", run.ID),
		ScreenshotURL: fmt.Sprintf("/runs/%s/screenshot", run.ID),
	})
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunScreenshot(w http.ResponseWriter, r *http.Request) {
	img, err := s.deps.Runs.Screenshot(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(img)
}

// resolveProfileDir maps an optional profile id to its directory. An
// unknown id is a synchronous 404; an empty id means an ephemeral
// per-run directory, resolved later by the runner.
func (s *Server) resolveProfileDir(w http.ResponseWriter, profileID string) (string, bool) {
	if profileID == "" {
		return "", true
	}
	if s.deps.Profiles == nil {
		writeError(w, http.StatusBadRequest, "profiles are not available on this service")
		return "", false
	}
	dir, err := s.deps.Profiles.Dir(profileID)
	if err != nil {
		writeDomainError(w, err)
		return "", false
	}
	return dir, true
}
