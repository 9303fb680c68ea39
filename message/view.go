package message

import (
	"strings"
	"time"

	"github.com/nzlov/portalchat/actor"
)

const (
	ItemDate    = "date"
	ItemMessage = "message"

	dateKeyLayout = "2006-01-02"
	labelLayout   = "Mon, 02 Jan 2006"
)

// View is the canonical client representation of a message. It is the same
// for every viewer, so it can be broadcast as is.
type View struct {
	ID        int64      `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Time      string     `json:"time"`
	DateKey   string     `json:"date_key"`
	ActorKind actor.Kind `json:"actor_kind"`
	ActorID   int64      `json:"actor_id"`
	ActorName string     `json:"actor_name"`
	Body      string     `json:"body"`

	Attachment *AttachmentView `json:"attachment"`

	Edited   bool       `json:"edited"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
	EditedBy *actor.Key `json:"edited_by"`
}

type AttachmentView struct {
	Attachment
	URL     string `json:"url"`
	IsImage bool   `json:"is_image"`
}

// Item is either a date separator or a message.
type Item struct {
	Type    string `json:"type"`
	DateKey string `json:"date_key,omitempty"`
	Label   string `json:"label,omitempty"`
	Message *View  `json:"message,omitempty"`
}

// Formatter renders messages in the server's calendar.
type Formatter struct {
	loc       *time.Location
	now       func() time.Time
	urlPrefix string
}

func NewFormatter(loc *time.Location, urlPrefix string, now func() time.Time) *Formatter {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Formatter{loc: loc, now: now, urlPrefix: urlPrefix}
}

func (f *Formatter) DateKey(t time.Time) string {
	return t.In(f.loc).Format(dateKeyLayout)
}

// KeyOf returns the date key of t, or "" for nil.
func (f *Formatter) KeyOf(t *time.Time) string {
	if t == nil {
		return ""
	}
	return f.DateKey(*t)
}

// Label names a date key relative to today.
func (f *Formatter) Label(key string) string {
	now := f.now().In(f.loc)
	switch key {
	case now.Format(dateKeyLayout):
		return "Today"
	case now.AddDate(0, 0, -1).Format(dateKeyLayout):
		return "Yesterday"
	}
	d, err := time.ParseInLocation(dateKeyLayout, key, f.loc)
	if err != nil {
		return key
	}
	return d.Format(labelLayout)
}

func (f *Formatter) View(m Message) View {
	v := View{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Time:      m.CreatedAt.In(f.loc).Format("15:04"),
		DateKey:   f.DateKey(m.CreatedAt),
		ActorKind: m.ActorKind,
		ActorID:   m.ActorID,
		ActorName: m.ActorName,
		Body:      m.Text(),
		EditedAt:  m.EditedAt,
		EditedBy:  m.EditedBy(),
		Edited:    m.EditedAt != nil,
	}
	if a := m.Attachment(); a != nil {
		v.Attachment = &AttachmentView{
			Attachment: *a,
			URL:        f.urlPrefix + a.Path,
			IsImage:    strings.HasPrefix(a.Mime, "image/"),
		}
	}
	return v
}

// Items walks msgs (oldest first) and inserts a separator whenever the date
// key changes from prevKey. prevKey must be the date key of the visible
// message directly before msgs[0], or "" at the start of history, so that
// pages concatenate without duplicated or missing separators.
func (f *Formatter) Items(msgs []Message, prevKey string) []Item {
	items := make([]Item, 0, len(msgs)+1)
	for _, m := range msgs {
		v := f.View(m)
		if v.DateKey != prevKey {
			items = append(items, Item{Type: ItemDate, DateKey: v.DateKey, Label: f.Label(v.DateKey)})
			prevKey = v.DateKey
		}
		items = append(items, Item{Type: ItemMessage, Message: &v})
	}
	return items
}
