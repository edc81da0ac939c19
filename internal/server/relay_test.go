package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/docsync/internal/presence"
	"github.com/Tyrowin/docsync/internal/session"
	"github.com/Tyrowin/docsync/internal/testutil"
)

// The tests in this file call the hub's handlers directly instead of running
// its loop; the test goroutine plays the role of that loop.

func newTestHub(t *testing.T, mutate func(*Config), opts ...HubOption) *Hub {
	t.Helper()
	cfg := *NewConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewHub(cfg, testutil.DiscardLogger(), opts...)
}

func attach(h *Hub, addr string) *Client {
	c := NewClient(nil, h, addr)
	h.clients[c] = struct{}{}
	return c
}

func emit(t *testing.T, h *Hub, c *Client, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	h.handleEvent(inbound{client: c, event: event, data: raw})
	h.flushEvicted()
}

func join(t *testing.T, h *Hub, c *Client, documentID, username string) {
	t.Helper()
	emit(t, h, c, EventJoinDocument, map[string]string{"documentId": documentID, "username": username})
}

// drain returns every frame currently queued for c.
func drain(t *testing.T, c *Client) []testutil.Frame {
	t.Helper()
	var frames []testutil.Frame
	for {
		select {
		case raw, ok := <-c.send:
			if !ok {
				return frames
			}
			var f testutil.Frame
			require.NoError(t, json.Unmarshal(raw, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func decode[T any](t *testing.T, f testutil.Frame) T {
	t.Helper()
	return testutil.Decode[T](t, f)
}

func TestRelay_Join_Sends_Snapshot_Then_Roster(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil, WithPresenceOptions(presence.WithPicker(func(int) int { return 0 })))
	x := attach(h, "x")

	join(t, h, x, "doc", "Ann")

	frames := drain(t, x)
	req.Len(frames, 2)
	req.Equal(EventLoadDocument, frames[0].Event)
	load := decode[LoadDocumentPayload](t, frames[0])
	req.Equal(session.DefaultContent, load.Content)
	req.Equal(session.DefaultTitle, load.Title)
	req.Equal([]session.Participant{{ID: x.ID(), Name: "Ann", Color: "bg-green-500", Initials: "AN"}}, load.Users)

	req.Equal(EventUsersChanged, frames[1].Event)
	req.Equal(load.Users, decode[[]session.Participant](t, frames[1]))
	req.Equal("doc", x.sessionID)
}

func TestRelay_Roster_Follows_Join_Order(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	clients := []*Client{attach(h, "a"), attach(h, "b"), attach(h, "c")}

	for i, c := range clients {
		join(t, h, c, "doc", string(rune('A'+i))+"name")
		frames := drain(t, c)
		roster := decode[[]session.Participant](t, frames[len(frames)-1])
		req.Len(roster, i+1)
		for j := range roster {
			req.Equal(clients[j].ID(), roster[j].ID)
		}
	}
}

func TestRelay_Content_Change_Reaches_Others_Only(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y, z := attach(h, "x"), attach(h, "y"), attach(h, "z")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	join(t, h, z, "other", "Zoe")
	drain(t, x)
	drain(t, y)
	drain(t, z)

	emit(t, h, x, EventContentChange, "<p>Hi</p>")

	req.Empty(drain(t, x))
	req.Empty(drain(t, z))
	frames := drain(t, y)
	req.Len(frames, 1)
	req.Equal(EventReceiveContentChange, frames[0].Event)
	req.Equal("<p>Hi</p>", decode[string](t, frames[0]))

	doc, _ := h.registry.Get("doc")
	req.Equal("<p>Hi</p>", doc.Content)
}

func TestRelay_Title_Change_Reaches_Others_Only(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	drain(t, x)
	drain(t, y)

	emit(t, h, y, EventTitleChange, "Roadmap")

	req.Empty(drain(t, y))
	frames := drain(t, x)
	req.Len(frames, 1)
	req.Equal(EventReceiveTitleChange, frames[0].Event)
	req.Equal("Roadmap", decode[string](t, frames[0]))
	doc, _ := h.registry.Get("doc")
	req.Equal("Roadmap", doc.Title)
}

func TestRelay_Repeated_Content_Is_Broadcast_Each_Time(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	drain(t, x)
	drain(t, y)

	emit(t, h, x, EventContentChange, "<p>same</p>")
	emit(t, h, x, EventContentChange, "<p>same</p>")

	frames := drain(t, y)
	req.Len(frames, 2)
	for _, f := range frames {
		req.Equal("<p>same</p>", decode[string](t, f))
	}
	doc, _ := h.registry.Get("doc")
	req.Equal("<p>same</p>", doc.Content)
}

func TestRelay_Last_Write_Wins_Across_Participants(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")

	emit(t, h, x, EventContentChange, "A")
	emit(t, h, y, EventContentChange, "B")

	doc, _ := h.registry.Get("doc")
	req.Equal("B", doc.Content)
}

func TestRelay_Mutations_Before_Join_Are_Dropped(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x := attach(h, "x")

	emit(t, h, x, EventContentChange, "<p>early</p>")
	emit(t, h, x, EventTitleChange, "early")

	req.Empty(drain(t, x))
	req.Zero(h.registry.Len())
	req.Empty(x.sessionID)
}

func TestRelay_Disconnect_Broadcasts_Remaining_Roster(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	drain(t, y)

	emit(t, h, x, eventDisconnect, nil)

	frames := drain(t, y)
	req.Len(frames, 1)
	req.Equal(EventUsersChanged, frames[0].Event)
	roster := decode[[]session.Participant](t, frames[0])
	req.Len(roster, 1)
	req.Equal(y.ID(), roster[0].ID)

	drain(t, x)
	_, open := <-x.send
	req.False(open)
	req.NotContains(h.clients, x)
	req.Empty(x.sessionID)
}

func TestRelay_Disconnect_Without_Join_Is_NoOp(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, y, "doc", "Yuri")
	drain(t, y)

	emit(t, h, x, eventDisconnect, nil)
	emit(t, h, x, eventDisconnect, nil)

	req.Empty(drain(t, y))
	req.NotContains(h.clients, x)
	roster, _ := h.registry.Roster("doc")
	req.Len(roster, 1)
}

func TestRelay_Rejoin_Moves_Connection_To_New_Group(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y, w := attach(h, "x"), attach(h, "y"), attach(h, "w")
	join(t, h, y, "one", "Yuri")
	join(t, h, w, "two", "Wes")
	join(t, h, x, "one", "Xena")
	drain(t, x)
	drain(t, y)
	drain(t, w)

	join(t, h, x, "two", "Xena")

	yFrames := drain(t, y)
	req.Len(yFrames, 1)
	req.Len(decode[[]session.Participant](t, yFrames[0]), 1)
	wFrames := drain(t, w)
	req.Len(wFrames, 1)
	req.Len(decode[[]session.Participant](t, wFrames[0]), 2)
	drain(t, x)

	emit(t, h, x, EventContentChange, "moved")

	req.Empty(drain(t, y))
	req.Len(drain(t, w), 1)
	one, _ := h.registry.Get("one")
	two, _ := h.registry.Get("two")
	req.Equal(session.DefaultContent, one.Content)
	req.Equal("moved", two.Content)
}

func TestRelay_Invalid_Frames_Are_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{name: "unknown event", event: "delete-document", data: `"doc"`},
		{name: "join without document id", event: EventJoinDocument, data: `{"username":"Ann"}`},
		{name: "join with malformed payload", event: EventJoinDocument, data: `[1,2]`},
		{name: "content that is not a string", event: EventContentChange, data: `{"html":"<p/>"}`},
		{name: "content that is null", event: EventContentChange, data: `null`},
		{name: "content that is missing", event: EventContentChange, data: ``},
		{name: "title that is null", event: EventTitleChange, data: `null`},
		{name: "title that is a number", event: EventTitleChange, data: `7`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			h := newTestHub(t, nil)
			x, y := attach(h, "x"), attach(h, "y")
			join(t, h, y, "doc", "Yuri")
			join(t, h, x, "doc", "Xena")
			drain(t, x)
			drain(t, y)

			h.handleEvent(inbound{client: x, event: tt.event, data: json.RawMessage(tt.data)})

			req.Empty(drain(t, x))
			req.Empty(drain(t, y))
			doc, _ := h.registry.Get("doc")
			req.Equal(session.DefaultContent, doc.Content)
			req.Equal(session.DefaultTitle, doc.Title)
			req.Len(doc.Participants, 2)
		})
	}
}

func TestRelay_Join_With_Non_String_Username_Uses_Fallback(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x := attach(h, "x")

	emit(t, h, x, EventJoinDocument, map[string]any{"documentId": "doc", "username": 42})

	frames := drain(t, x)
	req.Len(frames, 2)
	load := decode[LoadDocumentPayload](t, frames[0])
	req.Equal(presence.FallbackName, load.Users[0].Name)
	req.Equal("AN", load.Users[0].Initials)
}

func TestRelay_Full_Send_Buffer_Evicts_Client(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, func(cfg *Config) { cfg.SendBuffer = 2 })
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	drain(t, x)
	join(t, h, y, "doc", "Yuri")
	drain(t, x)

	// y still holds load-document and users-changed; the next frame overflows.
	emit(t, h, x, EventContentChange, "<p>overflow</p>")

	req.NotContains(h.clients, y)
	frames := drain(t, x)
	req.Len(frames, 1)
	req.Equal(EventUsersChanged, frames[0].Event)
	req.Len(decode[[]session.Participant](t, frames[0]), 1)

	req.Len(drain(t, y), 2)
	_, open := <-y.send
	req.False(open)
}

func TestRelay_Sanitizes_When_Enabled(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, func(cfg *Config) { cfg.SanitizeContent = true })
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	drain(t, y)

	emit(t, h, x, EventContentChange, `<p>hi</p><script>alert(1)</script>`)
	emit(t, h, x, EventTitleChange, `<b>Plan</b>`)

	frames := drain(t, y)
	req.Len(frames, 2)
	req.Equal("<p>hi</p>", decode[string](t, frames[0]))
	req.Equal("Plan", decode[string](t, frames[1]))
	doc, _ := h.registry.Get("doc")
	req.Equal("<p>hi</p>", doc.Content)
	req.Equal("Plan", doc.Title)
}

func TestRelay_Keeps_Markup_When_Sanitizing_Disabled(t *testing.T) {
	req := require.New(t)
	h := newTestHub(t, nil)
	x, y := attach(h, "x"), attach(h, "y")
	join(t, h, x, "doc", "Xena")
	join(t, h, y, "doc", "Yuri")
	drain(t, y)

	raw := `<p>hi</p><script>alert(1)</script>`
	emit(t, h, x, EventContentChange, raw)

	frames := drain(t, y)
	req.Len(frames, 1)
	req.Equal(raw, decode[string](t, frames[0]))
}

func TestRelay_Join_Loads_From_Supplied_Registry(t *testing.T) {
	req := require.New(t)
	registry := session.NewRegistry(nil)
	id := registry.Create()
	registry.SetTitle(id, "Minutes")
	registry.SetContent(id, "<p>agenda</p>")
	h := newTestHub(t, nil, WithRegistry(registry))
	x := attach(h, "x")

	join(t, h, x, id, "Ann")

	frames := drain(t, x)
	req.Len(frames, 2)
	load := decode[LoadDocumentPayload](t, frames[0])
	req.Equal("<p>agenda</p>", load.Content)
	req.Equal("Minutes", load.Title)
	roster, ok := registry.Roster(id)
	req.True(ok)
	req.Len(roster, 1)
}
