package common

import (
	"errors"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

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

// PauseSwitch is a mutable PauseView keyed by module name.
type PauseSwitch struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSwitch returns a switch with the supplied modules paused.
func NewPauseSwitch(paused ...string) *PauseSwitch {
	s := &PauseSwitch{paused: make(map[string]bool)}
	for _, module := range paused {
		s.paused[module] = true
	}
	return s
}

// IsPaused implements PauseView.
func (s *PauseSwitch) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[module]
}

// SetPaused toggles the pause flag for module.
func (s *PauseSwitch) SetPaused(module string, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[module] = true
		return
	}
	delete(s.paused, module)
}
