package message

import (
	"errors"
	"time"

	"github.com/nzlov/portalchat/actor"
)

var (
	ErrNotFound     = errors.New("message not found")
	ErrForbidden    = errors.New("not allowed to modify this message")
	ErrInvalidInput = errors.New("invalid message")
)

type Attachment struct {
	Path         string `json:"path"`
	OriginalName string `json:"original_name"`
	Mime         string `json:"mime"`
}

// Message is one row of the shared room log. Rows are never removed by
// normal flow; IsDeleted hides them from every read.
type Message struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `gorm:"not null"`

	ActorKind actor.Kind `gorm:"size:16;not null;index:idx_chat_messages_actor"`
	ActorID   int64      `gorm:"not null;index:idx_chat_messages_actor"`
	ActorName string     `gorm:"size:128;not null"`

	Body *string `gorm:"type:text"`

	AttachmentPath *string `gorm:"size:512"`
	AttachmentName *string `gorm:"size:255"`
	AttachmentMime *string `gorm:"size:128"`

	IsDeleted bool `gorm:"not null;default:false;index"`

	EditedAt     *time.Time
	EditedByKind *actor.Kind `gorm:"size:16"`
	EditedByID   *int64
}

func (Message) TableName() string { return "chat_messages" }

func (m Message) Author() actor.Key {
	return actor.Key{Kind: m.ActorKind, ID: m.ActorID}
}

func (m Message) Text() string {
	if m.Body == nil {
		return ""
	}
	return *m.Body
}

func (m Message) Attachment() *Attachment {
	if m.AttachmentPath == nil || *m.AttachmentPath == "" {
		return nil
	}
	a := &Attachment{Path: *m.AttachmentPath}
	if m.AttachmentName != nil {
		a.OriginalName = *m.AttachmentName
	}
	if m.AttachmentMime != nil {
		a.Mime = *m.AttachmentMime
	}
	return a
}

func (m Message) EditedBy() *actor.Key {
	if m.EditedByKind == nil || m.EditedByID == nil {
		return nil
	}
	return &actor.Key{Kind: *m.EditedByKind, ID: *m.EditedByID}
}
