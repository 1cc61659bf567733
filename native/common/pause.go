package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a native module is currently halted by the
// emergency pause switch. The pauser role is distinct from the arbiter.
type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
