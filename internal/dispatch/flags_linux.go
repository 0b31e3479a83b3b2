//go:build linux

package dispatch

import "golang.org/x/sys/unix"

const oDirect = unix.O_DIRECT
