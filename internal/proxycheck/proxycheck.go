// Package proxycheck verifies that a candidate proxy can carry plain HTTP
// traffic before a browser is launched through it. A passing probe does
// not guarantee the browser's traffic will succeed; it filters out dead
// or misconfigured proxies cheaply.
package proxycheck

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"browserbridge/internal/domain"
)

// ProbeURL echoes the caller's IP, so a successful fetch proves the
// request actually left through the proxy. The proxy-test run navigates
// the browser to the same URL.
const ProbeURL = "https://ipinfo.io/json"

// Probe performs a bounded GET of ProbeURL through the proxy. Credentials
// are embedded in the proxy URL only when both username and password are
// present; a partially-credentialed descriptor probes server-only.
func Probe(ctx context.Context, proxy *domain.ProxyDescriptor, timeout time.Duration) error {
	if proxy == nil || proxy.Server == "" {
		return fmt.Errorf("proxy probe: %w: missing server", domain.ErrInvalidInput)
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	proxyURL, err := proxy.URL()
	if err != nil {
		return fmt.Errorf("proxy probe: %w: %v", domain.ErrInvalidInput, err)
	}

	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
		},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, ProbeURL, nil)
	if err != nil {
		return domain.WrapOp("proxy probe: build request", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("proxy probe: request through %s: %w", proxy.Server, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("proxy probe: %s returned status %d", proxy.Server, resp.StatusCode)
	}
	return nil
}
