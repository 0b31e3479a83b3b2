//go:build !linux

package dispatch

// no O_DIRECT outside linux, the flag is accepted and ignored
const oDirect = 0
