package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"browserbridge/internal/domain"
)

// chromedpBackend launches one Chrome instance per acquired session via
// chromedp's exec allocator.
type chromedpBackend struct {
	cfg    Config
	logger *slog.Logger
}

func newChromedpBackend(cfg Config, logger *slog.Logger) *chromedpBackend {
	return &chromedpBackend{cfg: cfg, logger: logger}
}

func (b *chromedpBackend) Name() string { return "chromedp" }

// chromedpSession holds the allocator and browser contexts for one run.
type chromedpSession struct {
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
	navTimeout    time.Duration
	logger        *slog.Logger
}

func (b *chromedpBackend) Acquire(ctx context.Context, opts Options) (Session, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc

	if b.cfg.RemoteURL != "" {
		// Remote browsers are pre-launched; work dir and proxy flags only
		// apply to local launches.
		if opts.WorkDir != "" || opts.Proxy != nil {
			b.logger.Warn("chromedp remote browser ignores work dir and proxy options",
				"url", b.cfg.RemoteURL)
		}
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), b.cfg.RemoteURL)
	} else {
		// Copy default options to avoid mutating the package-level slice.
		execOpts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
		copy(execOpts, chromedp.DefaultExecAllocatorOptions[:])
		execOpts = append(execOpts,
			chromedp.Flag("headless", b.cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.WindowSize(b.cfg.WindowWidth, b.cfg.WindowHeight),
		)
		if opts.WorkDir != "" {
			execOpts = append(execOpts, chromedp.UserDataDir(opts.WorkDir))
		}
		if opts.Proxy != nil {
			execOpts = append(execOpts, chromedp.ProxyServer(opts.Proxy.Server))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	s := &chromedpSession{
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
		navTimeout:    b.cfg.NavTimeout,
		logger:        b.logger,
	}

	// Authenticated proxies answer the CDP auth challenge via the fetch
	// domain; Chrome has no flag for proxy credentials.
	if opts.Proxy.HasCredentials() {
		user, pass := opts.Proxy.Username, opts.Proxy.Password
		chromedp.ListenTarget(browserCtx, func(ev interface{}) {
			switch e := ev.(type) {
			case *fetch.EventAuthRequired:
				go func() {
					_ = chromedp.Run(browserCtx,
						fetch.ContinueWithAuth(e.RequestID, &fetch.AuthChallengeResponse{
							Response: fetch.AuthChallengeResponseResponseProvideCredentials,
							Username: user,
							Password: pass,
						}),
					)
				}()
			case *fetch.EventRequestPaused:
				go func() {
					_ = chromedp.Run(browserCtx, fetch.ContinueRequest(e.RequestID))
				}()
			}
		})
	}

	// Start the browser with an empty action. The start context must NOT
	// be timeout-derived: chromedp binds the CDP session to the context of
	// the first Run, and canceling a derived context kills the session.
	startDone := make(chan error, 1)
	go func() { startDone <- chromedp.Run(browserCtx) }()
	select {
	case err := <-startDone:
		if err != nil {
			s.Close()
			return nil, domain.WrapOp("start browser", err)
		}
	case <-time.After(b.cfg.NavTimeout):
		s.Close()
		return nil, fmt.Errorf("start browser: timed out after %v", b.cfg.NavTimeout)
	case <-ctx.Done():
		s.Close()
		return nil, domain.WrapOp("start browser", ctx.Err())
	}

	if opts.Proxy.HasCredentials() {
		if err := chromedp.Run(browserCtx,
			fetch.Enable().WithHandleAuthRequests(true),
		); err != nil {
			s.Close()
			return nil, domain.WrapOp("enable proxy auth", err)
		}
	}

	b.logger.Info("chromedp browser started",
		"headless", b.cfg.Headless, "work_dir", opts.WorkDir, "proxy", opts.Proxy != nil)
	return s, nil
}

func (s *chromedpSession) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()

	return chromedp.Run(tctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	)
}

// screenshotQualities is the sequence of JPEG quality levels tried when a
// capture exceeds maxScreenshotBytes. Lower quality = smaller file.
var screenshotQualities = []int{80, 60, 40, 20}

// maxScreenshotBytes caps the stored artifact; heavy pages at quality 80
// can otherwise produce multi-megabyte captures.
const maxScreenshotBytes = 2 << 20

func (s *chromedpSession) Screenshot(ctx context.Context) ([]byte, error) {
	tctx, cancel := context.WithTimeout(s.browserCtx, s.navTimeout)
	defer cancel()

	// Try progressively lower JPEG quality until the result fits.
	var buf []byte
	for _, quality := range screenshotQualities {
		data, err := s.captureJPEG(tctx, quality)
		if err != nil {
			return nil, domain.WrapOp("screenshot", err)
		}
		buf = data
		if len(buf) <= maxScreenshotBytes {
			return buf, nil
		}
		s.logger.Debug("screenshot too large, reducing quality",
			"quality", quality, "bytes", len(buf), "max", maxScreenshotBytes)
	}

	// All quality levels exceeded the cap; keep the lowest-quality result,
	// the image is still valid.
	return buf, nil
}

func (s *chromedpSession) captureJPEG(ctx context.Context, quality int) ([]byte, error) {
	var buf []byte
	err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(int64(quality)).
				Do(actx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromedpSession) Close() error {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	s.logger.Debug("chromedp browser closed")
	return nil
}
