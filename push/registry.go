package push

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nzlov/portalchat/actor"
)

var (
	ErrNotFound            = errors.New("subscription not found")
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// Subscription is one browser push endpoint. Endpoint is globally unique:
// re-subscribing moves the row to the new owner instead of duplicating it.
type Subscription struct {
	ID        int64      `gorm:"primaryKey;autoIncrement"`
	ActorKind actor.Kind `gorm:"size:16;not null;index:idx_push_subscriptions_actor"`
	ActorID   int64      `gorm:"not null;index:idx_push_subscriptions_actor"`
	Endpoint  string     `gorm:"size:1024;not null;uniqueIndex"`
	P256dh    string     `gorm:"column:p256dh;size:255"`
	Auth      string     `gorm:"size:255"`
	Enabled   bool       `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Subscription) TableName() string { return "push_subscriptions" }

func (s Subscription) Owner() actor.Key {
	return actor.Key{Kind: s.ActorKind, ID: s.ActorID}
}

type Registry struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRegistry(db *gorm.DB, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{db: db, now: now}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(new(Subscription))
}

func validate(endpoint, p256dh, auth string) error {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("endpoint %q: %w", endpoint, ErrInvalidSubscription)
	}
	if p256dh == "" || auth == "" {
		return fmt.Errorf("missing keys: %w", ErrInvalidSubscription)
	}
	return nil
}

// Subscribe upserts by endpoint, always enabling it for owner.
func (r *Registry) Subscribe(ctx context.Context, owner actor.Key, endpoint, p256dh, auth string) (Subscription, error) {
	endpoint = strings.TrimSpace(endpoint)
	p256dh = strings.TrimSpace(p256dh)
	auth = strings.TrimSpace(auth)
	if err := validate(endpoint, p256dh, auth); err != nil {
		return Subscription{}, err
	}
	now := r.now()
	s := Subscription{
		ActorKind: owner.Kind,
		ActorID:   owner.ID,
		Endpoint:  endpoint,
		P256dh:    p256dh,
		Auth:      auth,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	out := Subscription{}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"actor_kind", "actor_id", "p256dh", "auth", "enabled", "updated_at"}),
		}).Create(&s).Error
		if err != nil {
			return err
		}
		return tx.Where("endpoint = ?", endpoint).First(&out).Error
	})
	return out, err
}

// Unsubscribe removes endpoint only when owner holds it.
func (r *Registry) Unsubscribe(ctx context.Context, owner actor.Key, endpoint string) error {
	res := r.db.WithContext(ctx).
		Where("endpoint = ? AND actor_kind = ? AND actor_id = ?", strings.TrimSpace(endpoint), owner.Kind, owner.ID).
		Delete(&Subscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Toggle sets enabled on every subscription of owner and returns how many
// rows it touched.
func (r *Registry) Toggle(ctx context.Context, owner actor.Key, enabled bool) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Subscription{}).
		Where("actor_kind = ? AND actor_id = ?", owner.Kind, owner.ID).
		Updates(map[string]interface{}{"enabled": enabled, "updated_at": r.now()})
	return res.RowsAffected, res.Error
}

// Status reports the enabled flag of owner's most recently updated
// subscription, false when there is none.
func (r *Registry) Status(ctx context.Context, owner actor.Key) (bool, error) {
	rows := []Subscription{}
	err := r.db.WithContext(ctx).
		Where("actor_kind = ? AND actor_id = ?", owner.Kind, owner.ID).
		Order("updated_at DESC, id DESC").Limit(1).Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return false, err
	}
	return rows[0].Enabled, nil
}

type recipient struct {
	ActorKind actor.Kind
	ActorID   int64
}

// Recipients lists every distinct owner with at least one enabled
// subscription, except.
func (r *Registry) Recipients(ctx context.Context, except actor.Key) ([]actor.Key, error) {
	rows := []recipient{}
	err := r.db.WithContext(ctx).Model(&Subscription{}).
		Select("DISTINCT actor_kind, actor_id").
		Where("enabled = ?", true).
		Where("NOT (actor_kind = ? AND actor_id = ?)", except.Kind, except.ID).
		Order("actor_kind, actor_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	keys := make([]actor.Key, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, actor.Key{Kind: row.ActorKind, ID: row.ActorID})
	}
	return keys, nil
}

func (r *Registry) Enabled(ctx context.Context, owner actor.Key) ([]Subscription, error) {
	rows := []Subscription{}
	err := r.db.WithContext(ctx).
		Where("actor_kind = ? AND actor_id = ? AND enabled = ?", owner.Kind, owner.ID, true).
		Order("id").Find(&rows).Error
	return rows, err
}

func (r *Registry) Touch(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", id).Update("updated_at", r.now()).Error
}

func (r *Registry) Remove(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&Subscription{}, id).Error
}
