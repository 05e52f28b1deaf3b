//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package gateway

import "runtime"

func hostPlatform() string {
	return runtime.GOOS + " (" + runtime.GOARCH + ")"
}
