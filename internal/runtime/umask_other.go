//go:build !unix

package runtime

// setRestrictiveUmask is a no-op on platforms without a process umask.
func setRestrictiveUmask() {}
