// Package version reports the devflow build.
//
// Version, Commit and BuildTime are set at link time:
//
//	go build -ldflags "-X github.com/kbukum/devflow/version.Version=0.4.0" ./cmd/devflow
//
// Anything left unset falls back to the VCS stamp the Go toolchain embeds.
package version
