package session

import "sync"

// Preferences holds process-wide user interface preferences, currently
// the dismissal flags for one-time hints. The flags are process-wide
// rather than per-session: dismissing a hint in one conversation
// dismisses it everywhere.
//
// Lifecycle is explicit: the owner constructs one Preferences and injects
// it, so tests get isolated instances instead of shared package state.
type Preferences struct {
	mu        sync.RWMutex
	dismissed map[string]bool
}

// NewPreferences creates an empty preference set.
func NewPreferences() *Preferences {
	return &Preferences{dismissed: make(map[string]bool)}
}

// Dismiss marks a hint as permanently dismissed.
func (p *Preferences) Dismiss(hint string) {
	if hint == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dismissed[hint] = true
}

// IsDismissed reports whether a hint has been dismissed.
func (p *Preferences) IsDismissed(hint string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dismissed[hint]
}

// Reset clears one dismissal, re-enabling the hint.
func (p *Preferences) Reset(hint string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.dismissed, hint)
}

// Snapshot returns a copy of all dismissed hints.
func (p *Preferences) Snapshot() map[string]bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]bool, len(p.dismissed))
	for k, v := range p.dismissed {
		out[k] = v
	}
	return out
}
