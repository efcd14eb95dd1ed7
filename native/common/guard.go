package common

import (
	"errors"
	"sort"
	"strings"
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

// Pauses is an in-memory PauseView operators can toggle at runtime.
type Pauses struct {
	mu     sync.RWMutex
	paused map[string]struct{}
}

// NewPauses returns a pause set with the supplied modules already paused.
func NewPauses(modules ...string) *Pauses {
	p := &Pauses{paused: make(map[string]struct{})}
	for _, module := range modules {
		p.Pause(module)
	}
	return p
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

// Pause marks module as paused.
func (p *Pauses) Pause(module string) {
	key := normalizeModule(module)
	if key == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused[key] = struct{}{}
}

// Resume clears the pause flag for module.
func (p *Pauses) Resume(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.paused, normalizeModule(module))
}

// IsPaused implements PauseView.
func (p *Pauses) IsPaused(module string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.paused[normalizeModule(module)]
	return ok
}

// Modules lists the paused modules in lexical order.
func (p *Pauses) Modules() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.paused))
	for module := range p.paused {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}
