package session

import (
	"crypto/rand"
	"io"

	"github.com/samber/lo"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 8
)

// IDGenerator produces document identifiers.
type IDGenerator func() string

// RandomID returns an IDGenerator producing base-36 identifiers of the given
// length read from crypto/rand.
func RandomID(length int) IDGenerator {
	return func() string {
		return randomID(rand.Reader, length)
	}
}

// idByteLimit is the largest multiple of the alphabet size that fits in a
// byte. Bytes at or above it are skipped so every symbol is equally likely.
const idByteLimit = 256 - 256%len(idAlphabet)

func randomID(src io.Reader, length int) string {
	id := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(id) < length {
		if _, err := io.ReadFull(src, buf); err != nil {
			panic("session: reading random bytes: " + err.Error())
		}
		for _, b := range buf {
			if int(b) >= idByteLimit {
				continue
			}
			id = append(id, idAlphabet[int(b)%len(idAlphabet)])
			if len(id) == length {
				break
			}
		}
	}
	return string(id)
}

// Registry maps document identifiers to their state.
//
// A Registry is not safe for concurrent use. It is meant to be owned by a
// single goroutine (the relay's event loop), which serializes every access.
type Registry struct {
	docs  map[string]*Document
	newID IDGenerator
}

// NewRegistry creates an empty Registry. A nil generator selects 8-character
// base-36 identifiers.
func NewRegistry(gen IDGenerator) *Registry {
	if gen == nil {
		gen = RandomID(idLength)
	}
	return &Registry{
		docs:  make(map[string]*Document),
		newID: gen,
	}
}

// GenerateID returns a fresh identifier. It does not create a document.
func (r *Registry) GenerateID() string {
	return r.newID()
}

// Create generates an identifier not yet in use, initializes a document under
// it and returns the identifier.
func (r *Registry) Create() string {
	id := r.GenerateID()
	for r.exists(id) {
		id = r.GenerateID()
	}
	r.CreateOrGet(id)
	return id
}

// CreateOrGet returns the document stored under id, creating it with the
// default title and content if it does not exist yet. Identifiers are not
// validated: the first caller to name an id creates it.
func (r *Registry) CreateOrGet(id string) Document {
	doc, ok := r.docs[id]
	if !ok {
		doc = newDocument(id)
		r.docs[id] = doc
	}
	return doc.snapshot()
}

// Get returns a copy of the document stored under id.
func (r *Registry) Get(id string) (Document, bool) {
	doc, ok := r.docs[id]
	if !ok {
		return Document{}, false
	}
	return doc.snapshot(), true
}

// Roster returns a copy of the participants of id in join order.
func (r *Registry) Roster(id string) ([]Participant, bool) {
	doc, ok := r.docs[id]
	if !ok {
		return nil, false
	}
	return cloneRoster(doc.Participants), true
}

// SetContent replaces the stored body. Unknown ids are ignored.
func (r *Registry) SetContent(id, content string) {
	if doc, ok := r.docs[id]; ok {
		doc.Content = content
	}
}

// SetTitle replaces the stored title. Unknown ids are ignored.
func (r *Registry) SetTitle(id, title string) {
	if doc, ok := r.docs[id]; ok {
		doc.Title = title
	}
}

// AddParticipant appends p to the roster of id. Unknown ids are ignored.
func (r *Registry) AddParticipant(id string, p Participant) {
	if doc, ok := r.docs[id]; ok {
		doc.Participants = append(doc.Participants, p)
	}
}

// RemoveParticipant drops the first roster entry of id whose ID is connID.
func (r *Registry) RemoveParticipant(id, connID string) {
	doc, ok := r.docs[id]
	if !ok {
		return
	}
	_, idx, found := lo.FindIndexOf(doc.Participants, func(p Participant) bool {
		return p.ID == connID
	})
	if !found {
		return
	}
	doc.Participants = append(doc.Participants[:idx:idx], doc.Participants[idx+1:]...)
}

// Len reports how many documents are resident. Documents are never evicted,
// so this only grows over the process lifetime.
func (r *Registry) Len() int {
	return len(r.docs)
}

func (r *Registry) exists(id string) bool {
	_, ok := r.docs[id]
	return ok
}
