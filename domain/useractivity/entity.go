package useractivity

import (
	"time"

	"github.com/uptrace/bun"
)

// UserActivityCount is the rollup row for one (user, client, query) triple.
type UserActivityCount struct {
	bun.BaseModel `bun:"table:kb.user_activity_counts,alias:uac"`

	ID         int64     `bun:"id,pk,autoincrement" json:"id"`
	UserID     int64     `bun:"user_id,notnull" json:"userId"`
	Client     string    `bun:"client,notnull" json:"client"`
	Query      string    `bun:"query,notnull" json:"query"`
	QueryCount int64     `bun:"query_count,notnull" json:"queryCount"`
	LastVisit  time.Time `bun:"last_visit,notnull" json:"lastVisit"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:now()" json:"createdAt"`
}
