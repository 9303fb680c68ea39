// Package bus carries committed room mutations to their subscribers. The
// store commits first; handlers only ever see durable changes.
package bus

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/message"
)

type Kind string

const (
	MessageCreated Kind = "message-created"
	MessageEdited  Kind = "message-edited"
	MessageDeleted Kind = "message-deleted"
)

type Event struct {
	Kind      Kind
	MessageID int64
	// Message is nil for deletions.
	Message *message.View
	Origin  actor.Actor
}

type Handler func(ctx context.Context, ev Event) error

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Bus calls every handler in subscription order on the publishing
// goroutine. Handler errors and panics are logged and never reach the
// publisher.
type Bus struct {
	mu       sync.RWMutex
	handlers []named
}

type named struct {
	name string
	h    Handler
}

func New() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, named{name: name, h: h})
}

func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	hs := make([]named, len(b.handlers))
	copy(hs, b.handlers)
	b.mu.RUnlock()

	for _, n := range hs {
		b.call(ctx, n, ev)
	}
}

func (b *Bus) call(ctx context.Context, n named, ev Event) {
	log := zap.S().With("method", "publish", "handler", n.name, "event", ev.Kind, "message", ev.MessageID)
	defer func() {
		if err := recover(); err != nil {
			log.Error("handler panic:", err)
		}
	}()
	if err := n.h(ctx, ev); err != nil {
		log.Error("handler:", err)
	}
}
