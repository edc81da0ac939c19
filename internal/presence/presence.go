// Package presence turns join and leave requests into roster entries stored
// in a session.Registry.
package presence

import (
	"math/rand/v2"
	"strings"

	"github.com/Tyrowin/docsync/internal/session"
)

// FallbackName is used when a client joins without a usable display name.
const FallbackName = "Anonymous"

// Palette is the fixed set of colour tokens handed out to participants.
var Palette = []string{
	"bg-green-500",
	"bg-blue-500",
	"bg-purple-500",
	"bg-red-500",
	"bg-yellow-500",
}

// Manager assigns and removes roster entries. Like the Registry it wraps, it
// must only be used from the goroutine that owns that Registry.
type Manager struct {
	registry *session.Registry
	pick     func(n int) int
}

// Option configures a Manager.
type Option func(*Manager)

// WithPicker replaces the uniform random choice used for colours. pick must
// return a value in [0, n).
func WithPicker(pick func(n int) int) Option {
	return func(m *Manager) {
		m.pick = pick
	}
}

// NewManager creates a Manager backed by registry.
func NewManager(registry *session.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		pick:     rand.IntN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Join ensures sessionID exists, appends a new participant for connID and
// returns the resulting document snapshot together with that participant.
func (m *Manager) Join(sessionID, connID, displayName string) (session.Document, session.Participant) {
	m.registry.CreateOrGet(sessionID)

	name := normalizeName(displayName)
	p := session.Participant{
		ID:       connID,
		Name:     name,
		Color:    Palette[m.pick(len(Palette))],
		Initials: Initials(name),
	}
	m.registry.AddParticipant(sessionID, p)

	doc, _ := m.registry.Get(sessionID)
	return doc, p
}

// Leave removes connID from sessionID and returns the remaining roster.
// It reports false when the connection never joined or the session is gone.
func (m *Manager) Leave(sessionID, connID string) ([]session.Participant, bool) {
	if sessionID == "" {
		return nil, false
	}
	m.registry.RemoveParticipant(sessionID, connID)
	return m.registry.Roster(sessionID)
}

// Initials returns the first two characters of name, upper-cased.
func Initials(name string) string {
	runes := []rune(name)
	if len(runes) > 2 {
		runes = runes[:2]
	}
	return strings.ToUpper(string(runes))
}

// normalizeName keeps the name as sent unless it is blank.
func normalizeName(name string) string {
	if strings.TrimSpace(name) == "" {
		return FallbackName
	}
	return name
}
