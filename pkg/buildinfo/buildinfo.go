// Package buildinfo carries the version metadata both coreauthd and
// coreauth-proxy print on --version, following
// the teacher's cmd/dex/version.go (a package-level Version var swapped by
// the release build's -ldflags).
package buildinfo

import "runtime"

// Version is overridden at release build time via
// -ldflags "-X github.com/coreauth/coreauth/pkg/buildinfo.Version=...".
var Version = "dev"

// String renders the same three-line "Version/Go Version/Go OS/ARCH" block
// the teacher's `dex version` command prints.
func String(component string) string {
	return component + " version: " + Version + "\n" +
		"Go version: " + runtime.Version() + "\n" +
		"Go OS/ARCH: " + runtime.GOOS + "/" + runtime.GOARCH + "\n"
}
