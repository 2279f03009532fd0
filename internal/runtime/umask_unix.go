//go:build unix

package runtime

import "syscall"

// setRestrictiveUmask sets 0077 so every file this process creates is
// private by default, matching the original implementation's initialize
// step.
func setRestrictiveUmask() {
	syscall.Umask(0o077)
}
