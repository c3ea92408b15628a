package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sketchwire/backend/internal/protocol"
	"github.com/sketchwire/backend/internal/room"
	"github.com/sketchwire/backend/internal/store"
)

func newTestHub(t *testing.T) (*Hub, *room.Registry, *store.Store) {
	t.Helper()

	strokes, err := store.New()
	require.NoError(t, err)
	t.Cleanup(func() { strokes.Close() })

	registry := room.NewRegistry(strokes, zap.NewNop())
	hub := NewHub(registry, zap.NewNop())
	go hub.Run()

	return hub, registry, strokes
}

// newTestClient builds a client without a network connection; frames queued
// for it are read straight off its send channel.
func newTestClient(hub *Hub, id string) *Client {
	c := &Client{
		hub:  hub,
		send: make(chan []byte, 256),
		id:   id,
	}
	hub.register <- c
	return c
}

func sendMsg(t *testing.T, hub *Hub, c *Client, kind protocol.MessageType, data any) {
	t.Helper()

	frame, err := protocol.Encode(kind, data)
	require.NoError(t, err)
	hub.inbound <- &clientMessage{client: c, frame: frame}
}

func recvFrame(t *testing.T, c *Client) protocol.Envelope {
	t.Helper()

	select {
	case frame, ok := <-c.send:
		require.True(t, ok, "send channel closed unexpectedly")
		env, err := protocol.Decode(frame)
		require.NoError(t, err)
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a frame")
		return protocol.Envelope{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case frame := <-c.send:
		t.Fatalf("expected no frame, got %s", frame)
	default:
	}
}

func decodeData(t *testing.T, env protocol.Envelope, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, dst))
}

// joinRoom performs a join and consumes the joiner's snapshot and roster
// frames, returning the snapshot.
func joinRoom(t *testing.T, hub *Hub, c *Client, code, name string) []store.Stroke {
	t.Helper()

	sendMsg(t, hub, c, protocol.TypeJoin, protocol.JoinRequest{Code: code, Name: name})

	env := recvFrame(t, c)
	require.Equal(t, protocol.TypeRedraw, env.Type, "snapshot must arrive before anything else")
	var snapshot []store.Stroke
	decodeData(t, env, &snapshot)

	env = recvFrame(t, c)
	require.Equal(t, protocol.TypeUserUpdate, env.Type)

	return snapshot
}

func drawStroke(t *testing.T, hub *Hub, c *Client, strokeID string) {
	t.Helper()

	sendMsg(t, hub, c, protocol.TypeStrokeDraw, protocol.StrokeInput{
		StrokeID: strokeID,
		X1:       1, Y1: 1, X2: 2, Y2: 2,
		Tool:  protocol.ToolBrush,
		Color: "#e63946",
		Width: 3,
	})
}

func TestJoinUnknownRoomIsRejected(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	c := newTestClient(hub, "u1")

	sendMsg(t, hub, c, protocol.TypeJoin, protocol.JoinRequest{Code: "NOPE-NOPE", Name: "ada"})

	env := recvFrame(t, c)
	assert.Equal(t, protocol.TypeError, env.Type)

	var msg protocol.ErrorMessage
	decodeData(t, env, &msg)
	assert.Equal(t, room.ErrRoomNotFound.Error(), msg.Message)

	// Joining must never create the room.
	assert.False(t, registry.Exists("NOPE-NOPE"))
}

func TestJoinDeliversSnapshotThenRoster(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c := newTestClient(hub, "u1")
	sendMsg(t, hub, c, protocol.TypeJoin, protocol.JoinRequest{Code: code, Name: "ada"})

	env := recvFrame(t, c)
	require.Equal(t, protocol.TypeRedraw, env.Type)
	var snapshot []store.Stroke
	decodeData(t, env, &snapshot)
	assert.Empty(t, snapshot)

	env = recvFrame(t, c)
	require.Equal(t, protocol.TypeUserUpdate, env.Type)
	var roster []room.User
	decodeData(t, env, &roster)
	require.Len(t, roster, 1)
	assert.Equal(t, "u1", roster[0].ID)
	assert.Equal(t, "ada", roster[0].Name)
	assert.NotEmpty(t, roster[0].Color)
}

func TestLateJoinerReceivesFullHistoryInOrder(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")

	drawStroke(t, hub, c1, "a")
	drawStroke(t, hub, c1, "b")
	drawStroke(t, hub, c1, "c")

	c2 := newTestClient(hub, "u2")
	snapshot := joinRoom(t, hub, c2, code, "ben")

	require.Len(t, snapshot, 3)
	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, snapshot[i].StrokeID, "snapshot must be in commit order")
	}

	// c1 receives the roster update for c2's join, and nothing else: the
	// relays for its own strokes never echo back.
	env := recvFrame(t, c1)
	assert.Equal(t, protocol.TypeUserUpdate, env.Type)
	assertNoFrame(t, c1)

	// The joiner must not also get live relays for snapshot strokes.
	assertNoFrame(t, c2)
}

func TestStrokeRelayedToOthersOnly(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	c3 := newTestClient(hub, "u3")
	joinRoom(t, hub, c3, code, "cam")

	// Drain the roster updates from the later joins.
	recvFrame(t, c1)
	recvFrame(t, c1)
	recvFrame(t, c2)

	drawStroke(t, hub, c1, "s1")

	for _, peer := range []*Client{c2, c3} {
		env := recvFrame(t, peer)
		require.Equal(t, protocol.TypeStrokeDraw, env.Type)

		var st store.Stroke
		decodeData(t, env, &st)
		assert.Equal(t, "s1", st.StrokeID)
		assert.Equal(t, "u1", st.UserID, "relay must carry the author's identity")
	}

	assertNoFrame(t, c1)
}

func TestStrokeWithoutIDGetsSynthesizedOne(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	recvFrame(t, c1)

	drawStroke(t, hub, c1, "")

	env := recvFrame(t, c2)
	require.Equal(t, protocol.TypeStrokeDraw, env.Type)

	var st store.Stroke
	decodeData(t, env, &st)
	assert.NotEmpty(t, st.StrokeID, "every stored stroke must have an id")
}

func TestUndoBroadcastsCorrectedLogToEveryone(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	recvFrame(t, c1)

	drawStroke(t, hub, c1, "s1")
	drawStroke(t, hub, c1, "s2")
	recvFrame(t, c2)
	recvFrame(t, c2)

	sendMsg(t, hub, c1, protocol.TypeUndo, nil)

	// The undoer itself repaints from the corrected log too.
	for _, member := range []*Client{c1, c2} {
		env := recvFrame(t, member)
		require.Equal(t, protocol.TypeRedraw, env.Type)

		var snapshot []store.Stroke
		decodeData(t, env, &snapshot)
		require.Len(t, snapshot, 1)
		assert.Equal(t, "s1", snapshot[0].StrokeID)
	}
}

func TestUndoWithEmptyHistoryIsSilent(t *testing.T) {
	hub, registry, strokes := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	recvFrame(t, c1)

	drawStroke(t, hub, c1, "s1")
	recvFrame(t, c2)

	// c2 has drawn nothing; its undo must not touch the log or broadcast.
	sendMsg(t, hub, c2, protocol.TypeUndo, nil)

	// Follow with a cursor message as a sequencing point: the hub handles
	// events in order, so once it arrives the undo has fully completed.
	sendMsg(t, hub, c1, protocol.TypeCursor, protocol.CursorInput{X: 5, Y: 5})
	env := recvFrame(t, c2)
	assert.Equal(t, protocol.TypeCursor, env.Type)

	assertNoFrame(t, c1)
	count, err := strokes.StrokeCount(code)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCursorRelayedWithIdentityAndNotEchoed(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	c3 := newTestClient(hub, "u3")
	joinRoom(t, hub, c3, code, "cam")
	recvFrame(t, c1)
	recvFrame(t, c1)
	recvFrame(t, c2)

	sendMsg(t, hub, c1, protocol.TypeCursor, protocol.CursorInput{X: 12, Y: 34})

	for _, peer := range []*Client{c2, c3} {
		env := recvFrame(t, peer)
		require.Equal(t, protocol.TypeCursor, env.Type)

		var cur protocol.CursorUpdate
		decodeData(t, env, &cur)
		assert.Equal(t, "u1", cur.UserID)
		assert.Equal(t, "ada", cur.Name)
		assert.NotEmpty(t, cur.Color)
		assert.Equal(t, 12.0, cur.X)
		assert.Equal(t, 34.0, cur.Y)
	}

	assertNoFrame(t, c1)
}

func TestMessagesBeforeJoinAreIgnored(t *testing.T) {
	hub, registry, strokes := newTestHub(t)
	code, _ := registry.Create()

	c := newTestClient(hub, "u1")

	// None of these may error, store anything, or produce frames.
	drawStroke(t, hub, c, "ghost")
	sendMsg(t, hub, c, protocol.TypeUndo, nil)
	sendMsg(t, hub, c, protocol.TypeCursor, protocol.CursorInput{X: 1, Y: 1})

	snapshot := joinRoom(t, hub, c, code, "ada")
	assert.Empty(t, snapshot, "pre-join stroke must not have been committed")

	total, err := strokes.TotalStrokes()
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestDisconnectUpdatesRosterAndDestroysEmptyRoom(t *testing.T) {
	hub, registry, strokes := newTestHub(t)
	code, _ := registry.Create()

	c1 := newTestClient(hub, "u1")
	joinRoom(t, hub, c1, code, "ada")
	c2 := newTestClient(hub, "u2")
	joinRoom(t, hub, c2, code, "ben")
	recvFrame(t, c1)

	drawStroke(t, hub, c2, "s1")
	recvFrame(t, c1)

	hub.unregister <- c2

	env := recvFrame(t, c1)
	require.Equal(t, protocol.TypeUserUpdate, env.Type)
	var roster []room.User
	decodeData(t, env, &roster)
	require.Len(t, roster, 1)
	assert.Equal(t, "u1", roster[0].ID)

	// Room survives while one member remains.
	assert.True(t, registry.Exists(code))

	hub.unregister <- c1

	// The last disconnect tears the room down and discards its log.
	require.Eventually(t, func() bool { return !registry.Exists(code) },
		time.Second, 5*time.Millisecond)
	count, err := strokes.StrokeCount(code)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDisconnectBeforeJoin(t *testing.T) {
	hub, _, _ := newTestHub(t)

	c := newTestClient(hub, "u1")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 },
		time.Second, 5*time.Millisecond)

	hub.unregister <- c
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 },
		time.Second, 5*time.Millisecond)
}

func TestRoomsAreIsolated(t *testing.T) {
	hub, registry, _ := newTestHub(t)
	codeA, _ := registry.Create()
	codeB, _ := registry.Create()

	a1 := newTestClient(hub, "a1")
	joinRoom(t, hub, a1, codeA, "ada")
	a2 := newTestClient(hub, "a2")
	joinRoom(t, hub, a2, codeA, "ben")
	recvFrame(t, a1)

	b1 := newTestClient(hub, "b1")
	joinRoom(t, hub, b1, codeB, "cam")

	drawStroke(t, hub, a1, "s1")

	env := recvFrame(t, a2)
	assert.Equal(t, protocol.TypeStrokeDraw, env.Type)

	assertNoFrame(t, b1)
}
