package actor

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
)

// Session is a snapshot of the identity markers one authenticated browser
// session holds. Independent tabs may log into different panels, so any
// combination of the three can be present.
type Session struct {
	AdminID   *int64
	StaffID   *int64
	StudentID *int64
}

func (s Session) Empty() bool {
	return s.AdminID == nil && s.StaffID == nil && s.StudentID == nil
}

func (s Session) marker(k Kind) *int64 {
	switch k {
	case KindAdmin:
		return s.AdminID
	case KindStaff:
		return s.StaffID
	case KindStudent:
		return s.StudentID
	}
	return nil
}

const (
	DefaultStaffMarker = "/staff"
	DefaultAdminMarker = "/admin"
)

// Resolver picks exactly one acting identity per request.
type Resolver struct {
	dir         Directory
	staffMarker string
	adminMarker string
}

func NewResolver(dir Directory, staffMarker, adminMarker string) *Resolver {
	if staffMarker == "" {
		staffMarker = DefaultStaffMarker
	}
	if adminMarker == "" {
		adminMarker = DefaultAdminMarker
	}
	return &Resolver{
		dir:         dir,
		staffMarker: staffMarker,
		adminMarker: adminMarker,
	}
}

// Hinted returns the role view named by originHint, if any.
func (r *Resolver) Hinted(originHint string) (Kind, bool) {
	switch {
	case strings.Contains(originHint, r.staffMarker):
		return KindStaff, true
	case strings.Contains(originHint, r.adminMarker):
		return KindAdmin, true
	}
	return "", false
}

// Order returns the candidate kinds in precedence order for originHint.
func (r *Resolver) Order(originHint string) []Kind {
	if k, ok := r.Hinted(originHint); ok && k == KindStaff {
		return []Kind{KindStaff, KindAdmin, KindStudent}
	}
	return []Kind{KindAdmin, KindStaff, KindStudent}
}

// Resolve validates each candidate marker against its identity table and
// returns the first that still exists. Stale markers are skipped.
func (r *Resolver) Resolve(ctx context.Context, sess Session, originHint string) (Actor, error) {
	if sess.Empty() {
		return Actor{}, ErrUnauthenticated
	}
	log := zap.S().With("method", "resolve")
	for _, kind := range r.Order(originHint) {
		id := sess.marker(kind)
		if id == nil {
			continue
		}
		a, err := r.dir.Lookup(ctx, kind, *id)
		if errors.Is(err, ErrUnknownIdentity) {
			log.Debug("stale session marker:", kind, *id)
			continue
		}
		if err != nil {
			return Actor{}, err
		}
		return a, nil
	}
	return Actor{}, ErrUnauthenticated
}
