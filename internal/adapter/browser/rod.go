package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"browserbridge/internal/domain"
)

// rodBackend launches one Chromium instance per acquired session via the
// rod launcher.
type rodBackend struct {
	cfg    Config
	logger *slog.Logger
}

func newRodBackend(cfg Config, logger *slog.Logger) *rodBackend {
	return &rodBackend{cfg: cfg, logger: logger}
}

func (b *rodBackend) Name() string { return "rod" }

type rodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *rod.Page
	navTimeout time.Duration
	logger     *slog.Logger
}

func (b *rodBackend) Acquire(ctx context.Context, opts Options) (Session, error) {
	l := launcher.New().
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-dev-shm-usage").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-background-networking").
		Set("disable-default-apps").
		Set("disable-extensions").
		Set("disable-sync").
		Set("no-sandbox").
		Set("window-size", fmt.Sprintf("%d,%d", b.cfg.WindowWidth, b.cfg.WindowHeight)).
		Headless(b.cfg.Headless)

	if opts.WorkDir != "" {
		l = l.UserDataDir(opts.WorkDir)
	}
	if opts.Proxy != nil {
		l = l.Proxy(opts.Proxy.Server)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, domain.WrapOp("launch browser", err)
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		l.Kill()
		return nil, domain.WrapOp("connect browser", err)
	}

	if opts.Proxy.HasCredentials() {
		// HandleAuth answers the next proxy auth challenge; the returned
		// wait func blocks until the challenge arrives, so it runs aside.
		wait := br.HandleAuth(opts.Proxy.Username, opts.Proxy.Password)
		go func() { _ = wait() }()
	}

	pg, err := br.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = br.Close()
		l.Kill()
		return nil, domain.WrapOp("open page", err)
	}

	b.logger.Info("rod browser started",
		"headless", b.cfg.Headless, "work_dir", opts.WorkDir, "proxy", opts.Proxy != nil)

	return &rodSession{
		launcher:   l,
		browser:    br,
		page:       pg,
		navTimeout: b.cfg.NavTimeout,
		logger:     b.logger,
	}, nil
}

func (s *rodSession) Navigate(ctx context.Context, url string) error {
	tctx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	pg := s.page.Context(tctx)
	if err := pg.Navigate(url); err != nil {
		return domain.WrapOp("navigate", err)
	}
	// WaitLoad can block indefinitely on pages with continuous activity;
	// the timeout context above bounds it.
	if err := pg.WaitLoad(); err != nil {
		return domain.WrapOp("wait load", err)
	}
	return nil
}

func (s *rodSession) Screenshot(ctx context.Context) ([]byte, error) {
	tctx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()

	quality := 80
	data, err := s.page.Context(tctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return nil, domain.WrapOp("screenshot", err)
	}
	return data, nil
}

func (s *rodSession) Close() error {
	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, domain.WrapOp("close browser", err))
		}
	}
	// The work dir belongs to the run, not the launcher; only the browser
	// process itself is torn down here.
	if s.launcher != nil {
		s.launcher.Kill()
	}
	s.logger.Debug("rod browser closed")
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
