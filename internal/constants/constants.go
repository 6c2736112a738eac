package constants

const (
	PraisePrison = "praise-prison"

	QueryParamAuthorizationCode = "code"
	QueryParamNext              = "next"
	QueryParamError             = "error"

	PathLanding       = "/"
	PathDashboard     = "/dashboard"
	PathLogin         = "/login"
	PathAuthLogin     = "/auth/login"
	PathAuthCallback  = "/auth/callback"
	PathAuthCodeError = "/auth/auth-code-error"
	PathAuthSignOut   = "/auth/signout"
	PathPraisePrefix  = "/praise/"

	// AuthCookiePrefix is shared by every cookie written for the backend's
	// auth state, including chunks and the PKCE verifier.
	AuthCookiePrefix = "sb-"
	// AuthTokenMarker identifies session cookies regardless of project reference.
	AuthTokenMarker        = "-auth-token"
	CodeVerifierSuffix     = "-code-verifier"
	DefaultProjectRef      = "project-ref"
	SubmitCooldownCookie   = "last_praise_submit_time"
	DefaultCookieChunkSize = 3000

	ProviderKakao  = "kakao"
	ProviderGoogle = "google"
	ProviderGitHub = "github"

	NicknamePlaceholder     = "신입 수감자"
	UnknownReceiverNickname = "알 수 없는 수감자"
	SessionLoadFailed       = "로그인 정보를 불러올 수 없습니다. 다시 로그인해주세요."
)

// DefaultKeywords are shown in the keyword cloud of a user without praises.
var DefaultKeywords = []string{"#아직_조용함", "#칭찬_대기중"}
