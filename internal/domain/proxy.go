package domain

import (
	"fmt"
	"net/url"
)

// ProxyDescriptor is a network proxy applied to a single browser run. It
// is passed through to the automation layer unmodified and is never
// written into the status record or persisted anywhere else.
type ProxyDescriptor struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// HasCredentials reports whether both username and password are set.
// A server with partial credentials is applied server-only.
func (p *ProxyDescriptor) HasCredentials() bool {
	return p != nil && p.Username != "" && p.Password != ""
}

// URL returns the proxy server as a URL, with userinfo embedded when
// full credentials are present.
func (p *ProxyDescriptor) URL() (*url.URL, error) {
	u, err := url.Parse(p.Server)
	if err != nil {
		return nil, fmt.Errorf("parse proxy server: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy server %q: missing host", p.Server)
	}
	if p.HasCredentials() {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u, nil
}
