package actor

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Identity tables are owned by the surrounding portal. They are read here
// only to validate session markers and denormalize display names.

type AdminUser struct {
	ID       int64  `gorm:"primaryKey"`
	Username string `gorm:"size:64;uniqueIndex"`
	FullName string `gorm:"size:128"`
	Role     string `gorm:"size:32"`
}

type Staff struct {
	ID       int64  `gorm:"primaryKey"`
	FullName string `gorm:"size:128"`
}

func (Staff) TableName() string { return "staff" }

type Student struct {
	ID     int64  `gorm:"primaryKey"`
	RollNo string `gorm:"size:32;index"`
	Name   string `gorm:"size:128"`
}

// ErrUnknownIdentity means the marker points at a row that no longer exists.
var ErrUnknownIdentity = errors.New("unknown identity")

// Directory looks identities up in their backing tables.
type Directory interface {
	Lookup(ctx context.Context, kind Kind, id int64) (Actor, error)
}

type DBDirectory struct {
	db *gorm.DB
}

func NewDBDirectory(db *gorm.DB) *DBDirectory {
	return &DBDirectory{db: db}
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(new(AdminUser), new(Staff), new(Student))
}

func (d *DBDirectory) Lookup(ctx context.Context, kind Kind, id int64) (Actor, error) {
	db := d.db.WithContext(ctx)
	var err error
	a := Actor{Kind: kind, ID: id}
	switch kind {
	case KindAdmin:
		u := AdminUser{}
		if err = db.First(&u, id).Error; err == nil {
			a.Name = u.FullName
			if a.Name == "" {
				a.Name = u.Username
			}
			a.Role = u.Role
		}
	case KindStaff:
		s := Staff{}
		if err = db.First(&s, id).Error; err == nil {
			a.Name = s.FullName
		}
	case KindStudent:
		s := Student{}
		if err = db.First(&s, id).Error; err == nil {
			a.Name = s.Name
		}
	default:
		return Actor{}, fmt.Errorf("lookup %s: %w", kind, ErrUnknownIdentity)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Actor{}, fmt.Errorf("lookup %s:%d: %w", kind, id, ErrUnknownIdentity)
	}
	if err != nil {
		return Actor{}, err
	}
	return a, nil
}
