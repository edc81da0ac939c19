package server

import (
	"encoding/json"
	"errors"
	"net"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/docsync/internal/session"
)

// Client to server events.
const (
	EventJoinDocument  = "join-document"
	EventContentChange = "content-change"
	EventTitleChange   = "title-change"
)

// Server to client events.
const (
	EventLoadDocument         = "load-document"
	EventReceiveContentChange = "receive-content-change"
	EventReceiveTitleChange   = "receive-title-change"
	EventUsersChanged         = "users-changed"
)

// eventDisconnect is queued by a client's read pump when its connection ends.
// It never comes off the wire.
const eventDisconnect = "disconnect"

// Envelope is the JSON frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinPayload is the data of a join-document event. Username is decoded
// loosely: anything that is not a string is treated as missing.
type JoinPayload struct {
	DocumentID string `json:"documentId" validate:"required,max=128"`
	Username   any    `json:"username"`
}

// DisplayName returns the username when it was sent as a string.
func (p JoinPayload) DisplayName() string {
	name, _ := p.Username.(string)
	return name
}

// LoadDocumentPayload is the snapshot sent to a connection right after it joins.
type LoadDocumentPayload struct {
	Content string                `json:"content"`
	Title   string                `json:"title"`
	Users   []session.Participant `json:"users"`
}

// CreateDocumentResponse is the body returned by the creation endpoint.
type CreateDocumentResponse struct {
	DocumentID string `json:"documentId"`
}

// inbound is one event from one connection, queued for the hub loop.
type inbound struct {
	client *Client
	event  string
	data   json.RawMessage
}

func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// isExpectedCloseError reports whether err comes from a connection that is
// already closed or closing.
func isExpectedCloseError(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, syscall.EPIPE)
}
