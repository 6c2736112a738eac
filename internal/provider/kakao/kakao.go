package kakao

import (
	"github.com/matheuscscp/praise-prison/internal/constants"
)

type Provider struct{}

func (Provider) Name() string { return constants.ProviderKakao }

// Scopes asks for the nickname only; the app never reads the email.
func (Provider) Scopes() []string {
	return []string{"profile_nickname", "profile_image"}
}
