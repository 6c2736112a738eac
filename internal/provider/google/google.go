package google

import (
	"github.com/matheuscscp/praise-prison/internal/constants"
)

type Provider struct{}

func (Provider) Name() string { return constants.ProviderGoogle }

func (Provider) Scopes() []string {
	return []string{"openid", "email", "profile"}
}
