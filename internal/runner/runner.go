// Package runner executes one browser task to completion and records its
// outcome. It is the only component with multi-step sequencing: every
// other piece is a store or a request/response mapping.
package runner

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"browserbridge/internal/adapter/browser"
	"browserbridge/internal/domain"
	"browserbridge/internal/infra/tracer"
	"browserbridge/internal/registry"
)

// Runner drives dispatched runs against the resolved automation backend.
type Runner struct {
	backend  browser.Backend
	runs     *registry.Store
	logger   *slog.Logger
	settle   time.Duration
	startURL string
}

// New creates a runner. The backend is the single configuration-resolved
// implementation; the runner never probes for an alternative.
func New(backend browser.Backend, runs *registry.Store, settle time.Duration, startURL string, logger *slog.Logger) *Runner {
	if startURL == "" {
		startURL = "about:blank"
	}
	return &Runner{
		backend:  backend,
		runs:     runs,
		logger:   logger,
		settle:   settle,
		startURL: startURL,
	}
}

// Dispatch schedules the run as an independent background unit and
// returns immediately. There is no admission control, no cancellation,
// and no overall timeout: once dispatched, the run executes to a terminal
// phase regardless of whether anyone keeps polling. Failures are never
// returned here; they surface only through the run record.
func (r *Runner) Dispatch(run *domain.Run, profileDir string, proxy *domain.ProxyDescriptor) {
	go r.execute(run, profileDir, proxy)
}

func (r *Runner) execute(run *domain.Run, profileDir string, proxy *domain.ProxyDescriptor) {
	ctx, span := tracer.StartSpan(context.Background(), "run.execute")
	span.SetAttributes(
		tracer.StringAttr("run.id", run.ID),
		tracer.StringAttr("run.kind", string(run.Kind)),
		tracer.StringAttr("browser.backend", r.backend.Name()),
	)
	defer span.End()

	log := r.logger.With("run_id", run.ID, "kind", run.Kind)

	r.setPhase(run, domain.PhaseStarting)

	run.TargetURL = TargetURL(run.Task, r.startURL)

	workDir := profileDir
	if workDir == "" {
		var err error
		workDir, err = r.runs.WorkDir(run.ID)
		if err != nil {
			r.fail(run, span, err)
			return
		}
	}
	run.WorkDir = workDir

	r.setPhase(run, domain.PhaseLaunchingBrowser)
	log.Info("launching browser", "target", run.TargetURL, "work_dir", workDir, "proxy", proxy != nil)

	if err := r.browse(ctx, run, workDir, proxy); err != nil {
		r.fail(run, span, err)
		return
	}

	run.Phase = domain.PhaseFinished
	if err := r.runs.Update(run); err != nil {
		log.Error("write terminal record", "error", err)
	}
	tracer.SetOK(span)
	log.Info("run finished", "screenshot", run.ScreenshotPath)
}

// browse owns the browser for exactly one run: acquire, navigate, settle,
// capture. The deferred Close runs before the caller writes the terminal
// phase, so a terminal record always means the browser is gone.
func (r *Runner) browse(ctx context.Context, run *domain.Run, workDir string, proxy *domain.ProxyDescriptor) error {
	sess, err := r.backend.Acquire(ctx, browser.Options{
		WorkDir: workDir,
		Proxy:   proxy,
	})
	if err != nil {
		return domain.NewDomainError("acquire browser", domain.ErrBrowserFailure, err.Error())
	}
	defer func() {
		if err := sess.Close(); err != nil {
			r.logger.Warn("close browser", "run_id", run.ID, "error", err)
		}
	}()

	if err := sess.Navigate(ctx, run.TargetURL); err != nil {
		return domain.NewDomainError("navigate", domain.ErrBrowserFailure, err.Error())
	}

	// Fixed settle delay instead of page-ready detection. An accepted
	// approximation: the screenshot may catch a page mid-load.
	time.Sleep(r.settle)

	img, err := sess.Screenshot(ctx)
	if err != nil {
		return domain.NewDomainError("screenshot", domain.ErrBrowserFailure, err.Error())
	}

	path, err := r.runs.SaveScreenshot(run.ID, img)
	if err != nil {
		return domain.WrapOp("save screenshot", err)
	}
	run.ScreenshotPath = path
	return nil
}

func (r *Runner) setPhase(run *domain.Run, phase domain.Phase) {
	run.Phase = phase
	if err := r.runs.Update(run); err != nil {
		r.logger.Error("write phase", "run_id", run.ID, "phase", phase, "error", err)
	}
}

// fail records a terminal error phase. Automation errors never propagate
// to the dispatch caller; polling the record is the only way to see them.
func (r *Runner) fail(run *domain.Run, span trace.Span, err error) {
	tracer.RecordError(span, err)
	run.Phase = domain.PhaseError
	run.Error = err.Error()
	if uerr := r.runs.Update(run); uerr != nil {
		r.logger.Error("write error record", "run_id", run.ID, "error", uerr)
	}
	r.logger.Warn("run failed", "run_id", run.ID, "error", err)
}
