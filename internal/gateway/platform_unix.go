//go:build linux || darwin || freebsd || netbsd || openbsd

package gateway

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// hostPlatform is "goos release (arch)", e.g. "linux 6.8.0 (amd64)".
func hostPlatform() string {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOOS + " (" + runtime.GOARCH + ")"
	}
	return runtime.GOOS + " " + unix.ByteSliceToString(u.Release[:]) + " (" + runtime.GOARCH + ")"
}
