package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"browserbridge/internal/domain"
)

// Config tunes the automation backend. The backend is selected exactly
// once at process start; runs never probe for an alternative.
type Config struct {
	Backend      string // "chromedp" or "rod"
	Headless     bool
	RemoteURL    string // CDP endpoint; empty launches a local browser per run
	NavTimeout   time.Duration
	WindowWidth  int
	WindowHeight int
}

// Options configures a single acquired browser session.
type Options struct {
	// WorkDir is the user data directory (cookies, local storage) the
	// browser runs against. Each run owns a distinct directory.
	WorkDir string
	// Proxy, when set, routes all browser traffic through the given
	// server. Credentials are applied only when both are present.
	Proxy *domain.ProxyDescriptor
}

// Session is one headless browser instance scoped to a single run.
// Close must always be called, success or failure.
type Session interface {
	// Navigate loads the target URL and waits for the document body.
	Navigate(ctx context.Context, url string) error
	// Screenshot captures the current viewport as JPEG bytes.
	Screenshot(ctx context.Context) ([]byte, error)
	// Close releases the browser instance and its resources.
	Close() error
}

// Backend launches browser sessions. Exactly two implementations exist:
// chromedp and rod.
type Backend interface {
	Acquire(ctx context.Context, opts Options) (Session, error)
	Name() string
}

// New resolves the configured backend.
func New(cfg Config, logger *slog.Logger) (Backend, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1280
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 720
	}

	switch strings.ToLower(cfg.Backend) {
	case "chromedp", "":
		return newChromedpBackend(cfg, logger), nil
	case "rod":
		return newRodBackend(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", cfg.Backend)
	}
}
