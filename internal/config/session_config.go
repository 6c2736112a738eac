package config

import (
	"fmt"
	"time"

	"github.com/matheuscscp/praise-prison/internal/constants"
)

const (
	defaultHydrationTimeout = 5 * time.Second
	defaultStepTimeout      = 3 * time.Second
	defaultProfileAttempts  = 3
	defaultProfileTimeout   = 1500 * time.Millisecond
	defaultProfileBackoff   = 500 * time.Millisecond
	defaultSubmitCooldown   = 30 * time.Second
	defaultSubmitPerMinute  = 10
	defaultSubmitBurst      = 5
	defaultRefreshMargin    = time.Minute

	// Browsers reject cookies above ~4096 bytes including attributes.
	maxChunkSize = 3800
	minChunkSize = 64
)

type SessionConfig struct {
	ChunkSize        int           `yaml:"chunkSize" json:"chunkSize"`
	HydrationTimeout time.Duration `yaml:"hydrationTimeout" json:"hydrationTimeout"`
	StepTimeout      time.Duration `yaml:"stepTimeout" json:"stepTimeout"`
	ProfileAttempts  int           `yaml:"profileAttempts" json:"profileAttempts"`
	ProfileTimeout   time.Duration `yaml:"profileTimeout" json:"profileTimeout"`
	ProfileBackoff   time.Duration `yaml:"profileBackoff" json:"profileBackoff"`
	SubmitCooldown   time.Duration `yaml:"submitCooldown" json:"submitCooldown"`
	// SubmitPerMinute and SubmitBurst limit submissions per client address,
	// which the cooldown cookie alone cannot do.
	SubmitPerMinute float64       `yaml:"submitPerMinute" json:"submitPerMinute"`
	SubmitBurst     int           `yaml:"submitBurst" json:"submitBurst"`
	RefreshMargin   time.Duration `yaml:"refreshMargin" json:"refreshMargin"`
}

func (s *SessionConfig) applyDefaults() {
	if s.ChunkSize == 0 {
		s.ChunkSize = constants.DefaultCookieChunkSize
	}
	if s.HydrationTimeout == 0 {
		s.HydrationTimeout = defaultHydrationTimeout
	}
	if s.StepTimeout == 0 {
		s.StepTimeout = defaultStepTimeout
	}
	if s.ProfileAttempts == 0 {
		s.ProfileAttempts = defaultProfileAttempts
	}
	if s.ProfileTimeout == 0 {
		s.ProfileTimeout = defaultProfileTimeout
	}
	if s.ProfileBackoff == 0 {
		s.ProfileBackoff = defaultProfileBackoff
	}
	if s.SubmitCooldown == 0 {
		s.SubmitCooldown = defaultSubmitCooldown
	}
	if s.SubmitPerMinute == 0 {
		s.SubmitPerMinute = defaultSubmitPerMinute
	}
	if s.SubmitBurst == 0 {
		s.SubmitBurst = defaultSubmitBurst
	}
	if s.RefreshMargin == 0 {
		s.RefreshMargin = defaultRefreshMargin
	}
}

func (s *SessionConfig) validate() error {
	if s.ChunkSize < minChunkSize || s.ChunkSize > maxChunkSize {
		return fmt.Errorf("session.chunkSize must be between %d and %d, got %d", minChunkSize, maxChunkSize, s.ChunkSize)
	}
	if s.SubmitPerMinute < 0 {
		return fmt.Errorf("session.submitPerMinute must not be negative")
	}
	if s.SubmitBurst < 1 {
		return fmt.Errorf("session.submitBurst must be at least 1")
	}
	if s.ProfileAttempts < 1 {
		return fmt.Errorf("session.profileAttempts must be at least 1")
	}
	for name, d := range map[string]time.Duration{
		"hydrationTimeout": s.HydrationTimeout,
		"stepTimeout":      s.StepTimeout,
		"profileTimeout":   s.ProfileTimeout,
		"profileBackoff":   s.ProfileBackoff,
		"submitCooldown":   s.SubmitCooldown,
		"refreshMargin":    s.RefreshMargin,
	} {
		if d < 0 {
			return fmt.Errorf("session.%s must not be negative", name)
		}
	}
	return nil
}
