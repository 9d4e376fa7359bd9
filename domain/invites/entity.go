package invites

import (
	"time"

	"github.com/uptrace/bun"
)

// PreregistrationUser is one pending invitation: an address invited to a
// realm that has not signed up yet.
type PreregistrationUser struct {
	bun.BaseModel `bun:"table:kb.preregistration_users,alias:pru"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	Email        string     `bun:"email,notnull" json:"email"`
	ReferredByID *int64     `bun:"referred_by_id" json:"referredById,omitempty"`
	RealmID      *int64     `bun:"realm_id" json:"realmId,omitempty"`
	Status       string     `bun:"status,notnull,default:'pending'" json:"status"`
	RemindedAt   *time.Time `bun:"reminded_at" json:"remindedAt,omitempty"`
	CreatedAt    time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
}
