package domain

import "time"

// Phase is the lifecycle state of a Run. Phases only move forward along
// the sequence queued -> starting -> launching_browser -> finished|error;
// once a terminal phase is written no further transition occurs.
type Phase string

const (
	PhaseQueued           Phase = "queued"
	PhaseStarting         Phase = "starting"
	PhaseLaunchingBrowser Phase = "launching_browser"
	PhaseFinished         Phase = "finished"
	PhaseError            Phase = "error"
)

// phaseRank orders phases for the monotonicity check. Terminal phases
// share the top rank so finished never "advances" to error or back.
var phaseRank = map[Phase]int{
	PhaseQueued:           0,
	PhaseStarting:         1,
	PhaseLaunchingBrowser: 2,
	PhaseFinished:         3,
	PhaseError:            3,
}

// Terminal reports whether p is a final phase.
func (p Phase) Terminal() bool {
	return p == PhaseFinished || p == PhaseError
}

// Rank returns the ordering position of p, or -1 for unknown phases.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// RunKind distinguishes fire-and-forget tasks from live-viewable sessions.
// Both share the same lifecycle; a session is a run framed for interactive
// observation and convertible into a persisted profile.
type RunKind string

const (
	KindTask    RunKind = "task"
	KindSession RunKind = "session"
)

// Run is the status record for one browser automation run. It is created
// when the run is requested, mutated in place by the single goroutine that
// owns the run, and read-only for pollers. Each write replaces the whole
// record on disk, so readers never see a partial record. Records are never
// deleted automatically; cleanup is an operator concern.
type Run struct {
	ID             string    `json:"id"`
	Kind           RunKind   `json:"kind"`
	Phase          Phase     `json:"phase"`
	Task           string    `json:"task,omitempty"`
	TargetURL      string    `json:"target_url,omitempty"`
	Error          string    `json:"error,omitempty"`
	ScreenshotPath string    `json:"screenshot_path,omitempty"`
	WorkDir        string    `json:"work_dir,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
