package core

import (
	"runtime"

	"biped/pkg/types"
)

// niceFor maps 0 to nice 19 and PriorityMax to nice -20.
func niceFor(p types.Priority) int {
	if p < 0 {
		p = 0
	}
	if p > types.PriorityMax {
		p = types.PriorityMax
	}
	return 19 - int(p)*39/int(types.PriorityMax)
}

// PinThread locks the calling goroutine to its OS thread for the rest of the
// goroutine's life and applies the priority hint to that thread. The thread
// is never unlocked, so the nice value dies with it.
func PinThread(p types.Priority) error {
	runtime.LockOSThread()
	return applyPriority(p)
}
