package github

import (
	"github.com/matheuscscp/praise-prison/internal/constants"
)

type Provider struct{}

func (Provider) Name() string { return constants.ProviderGitHub }

func (Provider) Scopes() []string {
	return []string{"read:user"}
}
