package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/matheuscscp/praise-prison/internal/constants"
)

const (
	defaultBackendTimeout = 10 * time.Second
)

type BackendConfig struct {
	URL      string        `yaml:"url" json:"url"`
	AnonKey  string        `yaml:"anonKey" json:"anonKey"`
	Provider string        `yaml:"provider" json:"provider"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

func (b *BackendConfig) applyDefaults() {
	if b.Provider == "" {
		b.Provider = constants.ProviderKakao
	}
	if b.Timeout == 0 {
		b.Timeout = defaultBackendTimeout
	}
}

func (b *BackendConfig) validate() error {
	if b.Timeout < 0 {
		return fmt.Errorf("backend.timeout must not be negative")
	}
	if b.URL == "" {
		return nil
	}
	u, err := url.Parse(b.URL)
	if err != nil {
		return fmt.Errorf("backend.url is invalid: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("backend.url must use http or https, got '%s'", u.Scheme)
	}
	return nil
}

// Configured reports whether both the backend URL and the public key are set.
// The application keeps serving without them, degraded.
func (b *BackendConfig) Configured() bool {
	return b.URL != "" && b.AnonKey != ""
}

// ProjectRef is the first label of the backend host name. It namespaces the
// auth cookies.
func (b *BackendConfig) ProjectRef() string {
	return ProjectRef(b.URL)
}

func ProjectRef(backendURL string) string {
	u, err := url.Parse(backendURL)
	if err != nil || u.Hostname() == "" {
		return constants.DefaultProjectRef
	}
	ref, _, _ := strings.Cut(u.Hostname(), ".")
	return ref
}

// StorageKey is the base name of the session cookie.
func (b *BackendConfig) StorageKey() string {
	return fmt.Sprintf("%s%s%s", constants.AuthCookiePrefix, b.ProjectRef(), constants.AuthTokenMarker)
}
