package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nzlov/portalchat/actor"
)

const (
	MinLimit = 1
	MaxLimit = 200
)

// ClampLimit bounds a page size to [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return MinLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Page is an ordered (oldest first) window of visible messages.
type Page struct {
	Messages []Message
	OldestID int64
	HasMore  bool

	// PrevAt is the creation time of the visible message directly before
	// the window, when one exists.
	PrevAt *time.Time
}

// Store is the persistence boundary of the room log. It never emits
// events; callers broadcast after a mutation returns.
type Store struct {
	db     *gorm.DB
	policy actor.Policy
	now    func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(db *gorm.DB, policy actor.Policy, opts ...Option) *Store {
	s := &Store{
		db:     db,
		policy: policy,
		now:    time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(new(Message))
}

func (s *Store) Policy() actor.Policy {
	return s.policy
}

func (s *Store) Send(ctx context.Context, a actor.Actor, body string, att *Attachment) (Message, error) {
	body = strings.TrimSpace(body)
	if body == "" && att == nil {
		return Message{}, fmt.Errorf("send: empty body and no attachment: %w", ErrInvalidInput)
	}
	m := Message{
		CreatedAt: s.now(),
		ActorKind: a.Kind,
		ActorID:   a.ID,
		ActorName: a.Name,
	}
	if body != "" {
		m.Body = &body
	}
	if att != nil {
		m.AttachmentPath = &att.Path
		m.AttachmentName = &att.OriginalName
		m.AttachmentMime = &att.Mime
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&m).Error
	})
	if err != nil {
		zap.S().With("method", "send", "actor", a.String()).Error("db:create message:", err)
		return Message{}, err
	}
	return m, nil
}

func (s *Store) Edit(ctx context.Context, id int64, editor actor.Actor, body string) (Message, error) {
	body = strings.TrimSpace(body)
	var m Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = s.lockVisible(tx, id); err != nil {
			return err
		}
		if !s.policy.CanMutate(editor, m.Author()) {
			return ErrForbidden
		}
		if body == "" {
			return fmt.Errorf("edit: empty body: %w", ErrInvalidInput)
		}
		now := s.now()
		kind := editor.Kind
		editorID := editor.ID
		if err := tx.Model(&Message{}).Where("id = ?", id).Updates(map[string]interface{}{
			"body":           body,
			"edited_at":      now,
			"edited_by_kind": kind,
			"edited_by_id":   editorID,
		}).Error; err != nil {
			return err
		}
		m.Body = &body
		m.EditedAt = &now
		m.EditedByKind = &kind
		m.EditedByID = &editorID
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// SoftDelete hides a message. Deleting an already deleted message is
// NotFound: tombstoned rows are invisible.
func (s *Store) SoftDelete(ctx context.Context, id int64, a actor.Actor) (Message, error) {
	var m Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if m, err = s.lockVisible(tx, id); err != nil {
			return err
		}
		if !s.policy.CanMutate(a, m.Author()) {
			return ErrForbidden
		}
		if err := tx.Model(&Message{}).Where("id = ?", id).Update("is_deleted", true).Error; err != nil {
			return err
		}
		m.IsDeleted = true
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

// lockVisible loads a visible row, holding a row lock on engines that have
// one so that mutations of the same message serialize.
func (s *Store) lockVisible(tx *gorm.DB, id int64) (Message, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	m := Message{}
	err := q.Where("id = ? AND is_deleted = ?", id, false).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return m, err
}

func (s *Store) visible(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&Message{}).Where("is_deleted = ?", false)
}

// Get returns a visible message.
func (s *Store) Get(ctx context.Context, id int64) (Message, error) {
	m := Message{}
	err := s.visible(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	return m, err
}

// ByAttachment returns the visible message that carries the stored path.
func (s *Store) ByAttachment(ctx context.Context, path string) (Message, error) {
	m := Message{}
	err := s.visible(ctx).Where("attachment_path = ?", path).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Message{}, fmt.Errorf("attachment %s: %w", path, ErrNotFound)
	}
	return m, err
}

// Recent returns the last limit visible messages.
func (s *Store) Recent(ctx context.Context, limit int) (Page, error) {
	return s.window(s.visible(ctx), limit)
}

// Before returns up to limit visible messages with id < cursor.
func (s *Store) Before(ctx context.Context, cursor int64, limit int) (Page, error) {
	return s.window(s.visible(ctx).Where("id < ?", cursor), limit)
}

// window reads limit+1 rows newest first; the extra row decides HasMore and
// supplies the date boundary of the page.
func (s *Store) window(q *gorm.DB, limit int) (Page, error) {
	limit = ClampLimit(limit)
	rows := []Message{}
	if err := q.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		return Page{}, err
	}
	p := Page{}
	if len(rows) > limit {
		p.HasMore = true
		prev := rows[limit].CreatedAt
		p.PrevAt = &prev
		rows = rows[:limit]
	}
	reverse(rows)
	p.Messages = rows
	if len(rows) > 0 {
		p.OldestID = rows[0].ID
	}
	return p, nil
}

// After returns visible messages with id > cursor, oldest first.
func (s *Store) After(ctx context.Context, cursor int64, limit int) ([]Message, error) {
	rows := []Message{}
	err := s.visible(ctx).Where("id > ?", cursor).Order("id ASC").Limit(ClampLimit(limit)).Find(&rows).Error
	return rows, err
}

// PrevAt returns the creation time of the newest visible message with
// id <= cursor.
func (s *Store) PrevAt(ctx context.Context, cursor int64) (*time.Time, error) {
	rows := []Message{}
	if err := s.visible(ctx).Where("id <= ?", cursor).Order("id DESC").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0].CreatedAt, nil
}

func reverse(ms []Message) {
	for i, j := 0, len(ms)-1; i < j; i, j = i+1, j-1 {
		ms[i], ms[j] = ms[j], ms[i]
	}
}
