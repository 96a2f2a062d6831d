//go:build linux

package core

import (
	"golang.org/x/sys/unix"

	"biped/pkg/types"
)

// applyPriority maps a priority hint in [0, 99] onto the nice value of the
// calling OS thread. The goroutine must be locked to its thread. Raising
// priority above nice 0 needs CAP_SYS_NICE and fails otherwise.
func applyPriority(p types.Priority) error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), niceFor(p))
}
