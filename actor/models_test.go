package actor

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDBDirectoryLookup(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "portal.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	require.NoError(t, db.Create(&AdminUser{ID: 1, Username: "root", Role: "superadmin"}).Error)
	require.NoError(t, db.Create(&Staff{ID: 5, FullName: "Dr. Rao"}).Error)
	require.NoError(t, db.Create(&Student{ID: 7, RollNo: "R-7", Name: "Asha"}).Error)

	dir := NewDBDirectory(db)
	ctx := context.Background()

	a, err := dir.Lookup(ctx, KindAdmin, 1)
	require.NoError(t, err)
	assert.Equal(t, "root", a.Name)
	assert.Equal(t, "superadmin", a.Role)

	a, err = dir.Lookup(ctx, KindStaff, 5)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Rao", a.Name)

	a, err = dir.Lookup(ctx, KindStudent, 7)
	require.NoError(t, err)
	assert.Equal(t, Actor{Kind: KindStudent, ID: 7, Name: "Asha"}, a)

	_, err = dir.Lookup(ctx, KindStudent, 8)
	assert.ErrorIs(t, err, ErrUnknownIdentity)

	r := NewResolver(dir, "", "")
	a, err = r.Resolve(ctx, Session{StaffID: id(99), StudentID: id(7)}, "/staff/")
	require.NoError(t, err)
	assert.Equal(t, KindStudent, a.Kind)
}
