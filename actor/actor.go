package actor

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnauthenticated is returned when no identity in a session validates.
var ErrUnauthenticated = errors.New("not authenticated")

type Kind string

const (
	KindAdmin   Kind = "admin"
	KindStaff   Kind = "staff"
	KindStudent Kind = "student"
)

func (k Kind) Valid() bool {
	switch k {
	case KindAdmin, KindStaff, KindStudent:
		return true
	}
	return false
}

// Actor is the single acting identity of a request or live connection.
type Actor struct {
	Kind Kind   `json:"kind"`
	ID   int64  `json:"id"`
	Name string `json:"name"`

	// Role is only set for administrators.
	Role string `json:"-"`
}

func (a Actor) Key() Key {
	return Key{Kind: a.Kind, ID: a.ID}
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%d", a.Kind, a.ID)
}

// Key identifies an actor without its display data. Messages and push
// subscriptions are owned by keys, never by session tokens.
type Key struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.ID)
}

// Policy decides moderation capability.
type Policy struct {
	// ModeratorRoles restricts moderation to these admin roles. Empty means
	// every admin with a non-empty role moderates.
	ModeratorRoles []string
}

func (p Policy) CanModerate(a Actor) bool {
	if a.Kind != KindAdmin {
		return false
	}
	role := strings.ToLower(strings.TrimSpace(a.Role))
	if role == "" {
		return false
	}
	if len(p.ModeratorRoles) == 0 {
		return true
	}
	for _, r := range p.ModeratorRoles {
		if strings.ToLower(strings.TrimSpace(r)) == role {
			return true
		}
	}
	return false
}

// CanMutate reports whether a may edit or delete a message authored by author.
func (p Policy) CanMutate(a Actor, author Key) bool {
	return a.Key() == author || p.CanModerate(a)
}
