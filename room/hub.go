package room

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/bus"
)

const EventConnected = "connected"

type Config struct {
	ReadMessageSizeLimit int64
	Compression          bool
	CompressionLevel     int
	ReadBufferSize       int
	WriteBufferSize      int
	SendBuffer           int
	AllowedOrigins       []string
}

// Frame is the wire envelope of every server to client message.
type Frame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

type deletedData struct {
	ID int64 `json:"id"`
}

type connectedData struct {
	Actor actor.Actor `json:"actor"`
}

// Hub is the single shared room. Every connection belongs to a resolved
// actor; events go to all of them, the originating session included.
type Hub struct {
	cfg Config

	// Registered clients.
	clients sync.Map

	id int64

	upgrader websocket.Upgrader
}

func NewHub(cfg Config) *Hub {
	if cfg.ReadMessageSizeLimit <= 0 {
		cfg.ReadMessageSizeLimit = 4096
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	h := &Hub{cfg: cfg}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		EnableCompression: cfg.Compression,
	}
	h.upgrader.CheckOrigin = h.checkOrigin
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, o := range h.cfg.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func (h *Hub) Register(c *Client) {
	c.log.Info("register")
	h.clients.Store(c, struct{}{})
	data, err := json.Marshal(Frame{Event: EventConnected, Data: connectedData{Actor: c.actor}})
	if err != nil {
		c.log.Error("json:marshal connected:", err)
		return
	}
	c.enqueue(data)
}

func (h *Hub) Unregister(c *Client) {
	if _, ok := h.clients.LoadAndDelete(c); ok {
		c.log.Info("unregister")
		c.close()
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	n := 0
	h.clients.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Broadcast queues data on every connection without waiting for delivery.
func (h *Hub) Broadcast(data []byte) {
	h.clients.Range(func(k, _ interface{}) bool {
		c := k.(*Client)
		if !c.enqueue(data) {
			c.log.Warn("send buffer full, dropping connection")
			h.Unregister(c)
		}
		return true
	})
}

// Handle is the bus subscriber that turns committed mutations into frames.
func (h *Hub) Handle(_ context.Context, ev bus.Event) error {
	f := Frame{Event: string(ev.Kind), Data: ev.Message}
	if ev.Kind == bus.MessageDeleted || ev.Message == nil {
		f.Data = deletedData{ID: ev.MessageID}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	h.Broadcast(data)
	return nil
}

// Close drops every connection.
func (h *Hub) Close() {
	h.clients.Range(func(k, _ interface{}) bool {
		h.Unregister(k.(*Client))
		return true
	})
}

// ServeWs upgrades an already authorized request and joins it to the room.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, a actor.Actor) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	cid := atomic.AddInt64(&h.id, 1)
	client := &Client{
		hub:   h,
		cid:   cid,
		actor: a,
		conn:  conn,
		send:  make(chan []byte, h.cfg.SendBuffer),
		log:   zap.S().With("cid", cid, "actor", a.String()),
	}
	if h.cfg.Compression {
		client.conn.EnableWriteCompression(true)
		client.conn.SetCompressionLevel(h.cfg.CompressionLevel)
	}
	client.conn.SetCloseHandler(func(code int, text string) error {
		client.log.Info("CloseHandler:", code, text)
		message := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
		return nil
	})
	h.Register(client)
	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()
	return nil
}
