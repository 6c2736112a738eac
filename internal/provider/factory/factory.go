package factory

import (
	"fmt"

	"github.com/matheuscscp/praise-prison/internal/constants"
	"github.com/matheuscscp/praise-prison/internal/provider"
	"github.com/matheuscscp/praise-prison/internal/provider/github"
	"github.com/matheuscscp/praise-prison/internal/provider/google"
	"github.com/matheuscscp/praise-prison/internal/provider/kakao"
)

func New(name string) (provider.Interface, error) {
	switch name {
	case constants.ProviderKakao:
		return kakao.Provider{}, nil
	case constants.ProviderGoogle:
		return google.Provider{}, nil
	case constants.ProviderGitHub:
		return github.Provider{}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
