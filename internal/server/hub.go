// Package server coordinates client registration, event relay, and
// connection cleanup for the docsync websocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/samber/lo"

	"github.com/Tyrowin/docsync/internal/presence"
	"github.com/Tyrowin/docsync/internal/session"
)

// ErrHubClosed is returned by calls made after the hub has stopped.
var ErrHubClosed = errors.New("hub closed")

// Hub is the synchronization relay. It owns the session registry and the
// presence manager, and its Run loop is the only goroutine that touches them
// or any Client's protocol state.
type Hub struct {
	cfg      Config
	log      *slog.Logger
	registry *session.Registry
	presence *presence.Manager
	presOpts []presence.Option
	validate *validator.Validate

	contentPolicy *bluemonday.Policy
	titlePolicy   *bluemonday.Policy

	clients map[*Client]struct{}
	groups  map[string]map[*Client]struct{}
	evicted []*Client

	register chan *Client
	inbound  chan inbound
	calls    chan func()

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRegistry makes the hub use registry instead of a fresh one.
func WithRegistry(registry *session.Registry) HubOption {
	return func(h *Hub) {
		h.registry = registry
	}
}

// WithPresenceOptions forwards options to the hub's presence manager.
func WithPresenceOptions(opts ...presence.Option) HubOption {
	return func(h *Hub) {
		h.presOpts = append(h.presOpts, opts...)
	}
}

// NewHub creates a Hub for cfg. The hub does nothing until Run is started.
func NewHub(cfg Config, log *slog.Logger, opts ...HubOption) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:      sanitizeConfig(cfg),
		log:      log,
		registry: session.NewRegistry(nil),
		validate: validator.New(),
		clients:  make(map[*Client]struct{}),
		groups:   make(map[string]map[*Client]struct{}),
		register: make(chan *Client),
		inbound:  make(chan inbound),
		calls:    make(chan func()),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.presence = presence.NewManager(h.registry, h.presOpts...)
	if h.cfg.SanitizeContent {
		h.contentPolicy = bluemonday.UGCPolicy()
		h.titlePolicy = bluemonday.StrictPolicy()
	}
	return h
}

// Register hands a freshly upgraded client to the hub, which starts its pumps.
func (h *Hub) Register(client *Client) error {
	select {
	case h.register <- client:
		return nil
	case <-h.ctx.Done():
		return ErrHubClosed
	}
}

// enqueue delivers an event to the hub loop. It reports false once the hub
// has stopped.
func (h *Hub) enqueue(ev inbound) bool {
	select {
	case h.inbound <- ev:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// do runs fn on the hub loop and waits for it to finish.
func (h *Hub) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	call := func() {
		defer close(finished)
		fn()
	}
	select {
	case h.calls <- call:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrHubClosed
	}
	<-finished
	return nil
}

// CreateDocument initializes a document under a newly generated id and
// returns that id.
func (h *Hub) CreateDocument(ctx context.Context) (string, error) {
	var id string
	err := h.do(ctx, func() {
		id = h.registry.Create()
		h.log.Info("document created", "document", id)
	})
	return id, err
}

// Document returns a snapshot of the stored document.
func (h *Hub) Document(ctx context.Context, id string) (session.Document, bool, error) {
	var (
		doc session.Document
		ok  bool
	)
	err := h.do(ctx, func() {
		doc, ok = h.registry.Get(id)
	})
	return doc, ok, err
}

// Run starts the hub's event loop. It returns after Shutdown is called.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.log.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case ev := <-h.inbound:
			h.handleEvent(ev)
			h.flushEvicted()

		case call := <-h.calls:
			call()
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.clients[client] = struct{}{}
	client.log.Info("client registered", "clients", len(h.clients))

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) handleEvent(ev inbound) {
	if _, ok := h.clients[ev.client]; !ok {
		return
	}

	switch ev.event {
	case EventJoinDocument:
		h.handleJoin(ev.client, ev.data)
	case EventContentChange:
		h.handleMutation(ev.client, ev.data, EventReceiveContentChange)
	case EventTitleChange:
		h.handleMutation(ev.client, ev.data, EventReceiveTitleChange)
	case eventDisconnect:
		h.disconnect(ev.client)
	default:
		ev.client.log.Debug("ignoring unknown event", "event", ev.event)
	}
}

func (h *Hub) handleJoin(c *Client, data json.RawMessage) {
	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn("malformed join payload", "error", err)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		c.log.Warn("rejected join payload", "error", err)
		return
	}

	if c.sessionID != "" {
		h.leaveSession(c)
	}

	doc, participant := h.presence.Join(payload.DocumentID, c.id, payload.DisplayName())
	c.sessionID = doc.ID
	h.addToGroup(c, doc.ID)
	c.log.Info("joined document", "document", doc.ID, "name", participant.Name)

	h.sendEvent(c, EventLoadDocument, LoadDocumentPayload{
		Content: doc.Content,
		Title:   doc.Title,
		Users:   doc.Participants,
	})
	h.broadcast(doc.ID, nil, EventUsersChanged, doc.Participants)
}

// handleMutation applies a content or title change and relays it to the rest
// of the sender's group. Events from unjoined connections are dropped.
func (h *Hub) handleMutation(c *Client, data json.RawMessage, relayEvent string) {
	if c.sessionID == "" {
		c.log.Debug("dropping mutation from unjoined connection", "event", relayEvent)
		return
	}

	var decoded *string
	if err := json.Unmarshal(data, &decoded); err != nil || decoded == nil {
		c.log.Warn("mutation payload is not a string", "error", err)
		return
	}
	value := *decoded

	switch relayEvent {
	case EventReceiveContentChange:
		if h.contentPolicy != nil {
			value = h.contentPolicy.Sanitize(value)
		}
		h.registry.SetContent(c.sessionID, value)
	case EventReceiveTitleChange:
		if h.titlePolicy != nil {
			value = h.titlePolicy.Sanitize(value)
		}
		h.registry.SetTitle(c.sessionID, value)
	}

	h.broadcast(c.sessionID, c, relayEvent, value)
}

// disconnect removes a client for good. It is a no-op for clients that are
// already gone.
func (h *Hub) disconnect(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.leaveSession(c)
	c.log.Info("client unregistered", "clients", len(h.clients))
}

// leaveSession takes c out of its current group and roster and tells the
// remaining members.
func (h *Hub) leaveSession(c *Client) {
	sessionID := c.sessionID
	if sessionID == "" {
		return
	}
	h.removeFromGroup(c, sessionID)
	c.sessionID = ""

	roster, ok := h.presence.Leave(sessionID, c.id)
	if !ok {
		return
	}
	c.log.Info("left document", "document", sessionID, "remaining", len(roster))
	h.broadcast(sessionID, nil, EventUsersChanged, roster)
}

func (h *Hub) addToGroup(c *Client, sessionID string) {
	group, ok := h.groups[sessionID]
	if !ok {
		group = make(map[*Client]struct{})
		h.groups[sessionID] = group
	}
	group[c] = struct{}{}
}

func (h *Hub) removeFromGroup(c *Client, sessionID string) {
	group, ok := h.groups[sessionID]
	if !ok {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, sessionID)
	}
}

// sendEvent queues one event for a single client.
func (h *Hub) sendEvent(c *Client, event string, data any) {
	payload, err := encodeEnvelope(event, data)
	if err != nil {
		h.log.Error("encoding event", "event", event, "error", err)
		return
	}
	h.queue(c, payload)
}

// broadcast queues one event for every member of sessionID except sender,
// which may be nil.
func (h *Hub) broadcast(sessionID string, sender *Client, event string, data any) {
	payload, err := encodeEnvelope(event, data)
	if err != nil {
		h.log.Error("encoding event", "event", event, "error", err)
		return
	}

	targets := lo.Filter(lo.Keys(h.groups[sessionID]), func(c *Client, _ int) bool {
		return c != sender
	})
	h.log.Debug("broadcasting", "event", event, "document", sessionID, "targets", len(targets))

	for _, c := range targets {
		h.queue(c, payload)
	}
}

// queue attempts a non-blocking send. A client whose buffer is full is
// marked for eviction once the current event has been handled.
func (h *Hub) queue(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		h.evicted = append(h.evicted, c)
	}
}

// flushEvicted disconnects slow clients. Their departure may itself overflow
// other buffers, so it loops until nothing is pending.
func (h *Hub) flushEvicted() {
	for len(h.evicted) > 0 {
		c := h.evicted[0]
		h.evicted = h.evicted[1:]
		if _, ok := h.clients[c]; ok {
			c.log.Warn("removing client with full send buffer")
			h.disconnect(c)
		}
	}
}

// shutdownClients closes every live connection. Closing send stops the write
// pumps; closing the sockets stops the read pumps.
func (h *Hub) shutdownClients() {
	h.log.Info("shutting down all client connections")

	count := len(h.clients)
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		if client.conn != nil {
			client.closeConnection()
		}
	}

	h.log.Info("closed client connections", "count", count)
}

// Shutdown stops the hub and waits for all client goroutines to complete or
// for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("initiating hub shutdown")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
