// Package session owns the in-memory state of every shared document: its
// title, its body and the roster of connections currently editing it.
package session

import "github.com/samber/lo"

const (
	// DefaultTitle is the title given to every newly created document.
	DefaultTitle = "Untitled Document"
	// DefaultContent is the placeholder body given to every newly created document.
	DefaultContent = "<p>Start typing your document...</p>"
)

// Participant is one live connection's entry in a document roster.
type Participant struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Initials string `json:"initials"`
}

// Document is a collaboratively edited document. Values handed out by the
// Registry are copies; mutating them does not affect the stored state.
type Document struct {
	ID           string        `json:"-"`
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	Participants []Participant `json:"users"`
}

func newDocument(id string) *Document {
	return &Document{
		ID:           id,
		Title:        DefaultTitle,
		Content:      DefaultContent,
		Participants: []Participant{},
	}
}

func (d *Document) snapshot() Document {
	cp := *d
	cp.Participants = cloneRoster(d.Participants)
	return cp
}

func cloneRoster(roster []Participant) []Participant {
	return lo.Map(roster, func(p Participant, _ int) Participant { return p })
}
