package api

import (
	"fmt"
	"net/http"

	"browserbridge/internal/domain"
)

type createSessionRequest struct {
	ProfileID string                  `json:"profile_id,omitempty"`
	Proxy     *domain.ProxyDescriptor `json:"proxy,omitempty"`
}

type createSessionResponse struct {
	SessionID   string `json:"session_id"`
	LiveViewURL string `json:"liveViewUrl"`
}

type completeSessionResponse struct {
	ProfileID string `json:"profile_id"`
}

type deleteProfileResponse struct {
	Deleted bool `json:"deleted"`
}

// RegisterSessionRoutes wires the session service endpoints onto the mux.
func (s *Server) RegisterSessionRoutes() {
	s.registerHealth("browser-session-bridge")
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}/live", s.handleSessionLive)
	s.mux.HandleFunc("POST /sessions/{id}/complete", s.handleSessionComplete)
	s.mux.HandleFunc("GET /profiles/{id}", s.handleProfileArchive)
	s.mux.HandleFunc("DELETE /profiles/{id}", s.handleProfileDelete)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
	}

	profileDir, ok := s.resolveProfileDir(w, req.ProfileID)
	if !ok {
		return
	}

	// A session is a run with no task text; it opens on the configured
	// start URL and stays observable through the live endpoint.
	run, err := s.deps.Runs.Create(domain.KindSession, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.deps.Runner.Dispatch(run, profileDir, req.Proxy)

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID:   run.ID,
		LiveViewURL: fmt.Sprintf("/sessions/%s/live", run.ID),
	})
}

// handleSessionLive serves the latest screenshot, falling back to the
// status record while no screenshot exists yet.
func (s *Server) handleSessionLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	img, err := s.deps.Runs.Screenshot(id)
	if err == nil {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
		return
	}

	run, err := s.deps.Runs.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Runs.Get(r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// run.WorkDir may still be empty if the session never got as far as
	// resolving a working directory; that materializes an empty profile
	// rather than failing.
	profileID, err := s.deps.Profiles.Materialize(run.WorkDir)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, completeSessionResponse{ProfileID: profileID})
}

func (s *Server) handleProfileArchive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	data, err := s.deps.Profiles.Archive(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	w.Write(data)
}

func (s *Server) handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Profiles.Delete(r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deleteProfileResponse{Deleted: true})
}
