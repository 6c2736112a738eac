package provider

// Interface describes an OAuth identity provider the backend federates to.
type Interface interface {
	// Name is the provider identifier understood by the backend.
	Name() string
	Scopes() []string
}
