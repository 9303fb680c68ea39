package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/bus"
	"github.com/nzlov/portalchat/message"
)

type rawFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T) (*Hub, string) {
	t.Helper()
	h := NewHub(Config{})
	kinds := map[string]actor.Actor{
		"student": {Kind: actor.KindStudent, ID: 7, Name: "Asha"},
		"admin":   {Kind: actor.KindAdmin, ID: 1, Name: "Root"},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := kinds[r.URL.Query().Get("as")]
		assert.NoError(t, h.ServeWs(w, r, a))
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) rawFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	f := rawFrame{}
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestHubFanOut(t *testing.T) {
	h, url := newTestHub(t)

	a := dial(t, url+"?as=student")
	b := dial(t, url+"?as=admin")

	hello := read(t, a)
	assert.Equal(t, EventConnected, hello.Event)
	assert.JSONEq(t, `{"actor":{"kind":"student","id":7,"name":"Asha"}}`, string(hello.Data))
	assert.Equal(t, EventConnected, read(t, b).Event)
	assert.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 10*time.Millisecond)

	v := &message.View{ID: 12, Body: "hello", ActorKind: actor.KindStudent, ActorID: 7}
	require.NoError(t, h.Handle(context.Background(), bus.Event{Kind: bus.MessageCreated, MessageID: 12, Message: v}))

	for _, conn := range []*websocket.Conn{a, b} {
		f := read(t, conn)
		assert.Equal(t, "message-created", f.Event)
		got := message.View{}
		require.NoError(t, json.Unmarshal(f.Data, &got))
		assert.Equal(t, int64(12), got.ID)
		assert.Equal(t, "hello", got.Body)
	}

	require.NoError(t, h.Handle(context.Background(), bus.Event{Kind: bus.MessageDeleted, MessageID: 12}))
	f := read(t, a)
	assert.Equal(t, "message-deleted", f.Event)
	assert.JSONEq(t, `{"id":12}`, string(f.Data))
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	h, url := newTestHub(t)
	conn := dial(t, url+"?as=student")
	read(t, conn)
	assert.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return h.Count() == 0 }, 5*time.Second, 10*time.Millisecond)

	// broadcasting to an empty room is a no-op
	assert.NotPanics(t, func() { h.Broadcast([]byte(`{}`)) })
}

func TestSlowClientIsDropped(t *testing.T) {
	h := NewHub(Config{SendBuffer: 1})
	c := &Client{hub: h, send: make(chan []byte, 1), log: zapNop()}
	h.clients.Store(c, struct{}{})

	h.Broadcast([]byte("one"))
	assert.Equal(t, 1, h.Count())
	h.Broadcast([]byte("two"))
	assert.Equal(t, 0, h.Count())

	assert.False(t, c.enqueue([]byte("three")))
	<-c.send
	_, open := <-c.send
	assert.False(t, open)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHub(Config{AllowedOrigins: []string{"https://portal.example"}})
	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))
	r.Header.Set("Origin", "https://portal.example")
	assert.True(t, h.checkOrigin(r))
}

func zapNop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
