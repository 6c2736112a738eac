package config

import (
	"regexp"
	"strings"

	"github.com/matheuscscp/praise-prison/internal/constants"
)

type AppConfig struct {
	Production       bool     `yaml:"production" json:"production"`
	PublicURL        string   `yaml:"publicURL" json:"publicURL"`
	AllowedNextPaths []string `yaml:"allowedNextPaths" json:"allowedNextPaths"`
	LoginPath        string   `yaml:"loginPath" json:"loginPath"`

	regexAllowedNextPaths []*regexp.Regexp
}

func (a *AppConfig) applyDefaults() {
	if a.AllowedNextPaths == nil {
		a.AllowedNextPaths = []string{}
	}
	if a.LoginPath == "" {
		a.LoginPath = constants.PathLogin
	}
}

// ValidateNextPath accepts only local paths. When an allow list is configured
// the path must also match one of its entries.
func (a *AppConfig) ValidateNextPath(next string) bool {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return false
	}
	if len(a.regexAllowedNextPaths) == 0 {
		return true
	}
	for _, r := range a.regexAllowedNextPaths {
		if r.MatchString(next) {
			return true
		}
	}
	return false
}
