package version

// Version is the current histviz version.
// This is a var (not const) so release builds can stamp it:
//
//	go build -ldflags "-X github.com/vanderheijden86/histviz/pkg/version.Version=v0.2.0" ./cmd/hv
var Version = "v0.1.0-dev"
