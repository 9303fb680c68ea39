package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nzlov/portalchat/actor"
	"github.com/nzlov/portalchat/bus"
)

// ErrGone is a permanent delivery failure: the push service no longer knows
// the endpoint and the subscription should be pruned.
var ErrGone = errors.New("push endpoint gone")

type Sender interface {
	Send(ctx context.Context, sub Subscription, payload []byte) error
}

type Payload struct {
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	MessageID int64  `json:"message_id"`
	URL       string `json:"url,omitempty"`
}

const previewLen = 120

// PayloadFor describes a committed room event for a notification.
func PayloadFor(ev bus.Event, url string) Payload {
	p := Payload{Kind: string(ev.Kind), MessageID: ev.MessageID, URL: url}
	name := ev.Origin.Name
	if name == "" {
		name = "Someone"
	}
	switch ev.Kind {
	case bus.MessageCreated:
		p.Title = "New message from " + name
	case bus.MessageEdited:
		p.Title = name + " edited a message"
	case bus.MessageDeleted:
		p.Title = name + " deleted a message"
		p.Body = "A message was removed from the group chat."
		return p
	}
	if ev.Message != nil {
		switch {
		case ev.Message.Body != "":
			p.Body = preview(ev.Message.Body)
		case ev.Message.Attachment != nil:
			p.Body = "Sent an attachment: " + ev.Message.Attachment.OriginalName
		}
	}
	return p
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewLen {
		return s
	}
	r := []rune(s)
	return string(r[:previewLen-1]) + "…"
}

// Dispatcher fans payloads out to subscribed actors. Without a sender (no
// server key material) it does nothing.
type Dispatcher struct {
	reg    *Registry
	sender Sender

	deliver func(ctx context.Context, to actor.Key, payload []byte) error
}

func NewDispatcher(reg *Registry, sender Sender) *Dispatcher {
	d := &Dispatcher{reg: reg, sender: sender}
	d.deliver = d.Deliver
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d.sender != nil
}

// BroadcastExcept delivers to every distinct recipient but origin. The
// first non-permanent failure stops the remaining fan-out.
func (d *Dispatcher) BroadcastExcept(ctx context.Context, origin actor.Key, p Payload) error {
	if !d.Enabled() {
		return nil
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	recipients, err := d.reg.Recipients(ctx, origin)
	if err != nil {
		return err
	}
	for _, to := range recipients {
		if to == origin {
			continue
		}
		if err := d.deliver(ctx, to, payload); err != nil {
			return fmt.Errorf("deliver to %s: %w", to, err)
		}
	}
	return nil
}

// Deliver sends payload to every enabled endpoint of to. Dead endpoints
// are pruned; any other failure aborts.
func (d *Dispatcher) Deliver(ctx context.Context, to actor.Key, payload []byte) error {
	if !d.Enabled() {
		return nil
	}
	log := zap.S().With("method", "deliver", "to", to.String())
	subs, err := d.reg.Enabled(ctx, to)
	if err != nil {
		return err
	}
	for _, s := range subs {
		if s.P256dh == "" || s.Auth == "" {
			continue
		}
		err := d.sender.Send(ctx, s, payload)
		switch {
		case err == nil:
			if err := d.reg.Touch(ctx, s.ID); err != nil {
				log.Warn("db:touch subscription:", err)
			}
		case errors.Is(err, ErrGone):
			log.Info("pruning dead endpoint:", s.ID)
			if err := d.reg.Remove(ctx, s.ID); err != nil {
				log.Warn("db:remove subscription:", err)
			}
		default:
			return err
		}
	}
	return nil
}
