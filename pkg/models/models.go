package models

import (
	"time"

	"github.com/google/uuid"
)

// Order status values
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

// Order origin values. OrderSourceMatch is the current match/confirm flow;
// OrderSourceLegacy marks orders created by the retired pre-debit flow whose
// amount sits in the user's frozen balance until completion.
const (
	OrderSourceMatch  = "match"
	OrderSourceLegacy = "legacy"
)

// Order type values
const (
	OrderTypeNormal   = "normal"
	OrderTypeDispatch = "dispatch"
)

// Dispatch override status values
const (
	DispatchStatusPending = "pending"
	DispatchStatusUsed    = "used"
)

// User represents a platform user with a single-currency balance
type User struct {
	ID            uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	Username      string     `json:"username" gorm:"uniqueIndex"`
	Email         string     `json:"email" gorm:"uniqueIndex"`
	PasswordHash  string     `json:"-" gorm:"column:password_hash"`
	Role          string     `json:"role" gorm:"default:user"` // user, admin
	InviteCode    string     `json:"invite_code" gorm:"index"`
	ReferrerID    *uuid.UUID `json:"referrer_id" gorm:"type:uuid;index"`
	Balance       float64    `json:"balance"`
	FrozenBalance float64    `json:"frozen_balance"` // legacy pre-debit reserve, read-mostly
	VIPLevel      int        `json:"vip_level" gorm:"default:1"`
	TaskProgress  int        `json:"task_progress"` // settled orders counted against the tier quota
	AllowGrab     bool       `json:"allow_grab" gorm:"default:true"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// VIPLevel defines a tier: commission rate and daily order quota
type VIPLevel struct {
	ID             uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Level          int       `json:"level" gorm:"uniqueIndex"`
	Name           string    `json:"name"`
	Price          float64   `json:"price"`
	CommissionRate float64   `json:"commission_rate"`
	TaskLimit      int       `json:"task_limit"`
	MinBalance     float64   `json:"min_balance"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TierConfig is the resolved view of a tier consumed by the matcher
type TierConfig struct {
	Level          int     `json:"level"`
	CommissionRate float64 `json:"commission_rate"`
	TaskLimit      int     `json:"task_limit"`
}

// Order represents a grabbed task order. The partial unique index on user_id
// is the hard guarantee behind one pending order per account: racing matches
// hit the constraint, not just the pre-check.
type Order struct {
	ID              uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	OrderNo         string     `json:"order_no" gorm:"uniqueIndex"`
	UserID          uuid.UUID  `json:"user_id" gorm:"type:uuid;index;index:idx_orders_user_pending,unique,where:status = 'pending'"`
	Amount          float64    `json:"amount"`
	Commission      float64    `json:"commission"`
	Status          string     `json:"status" gorm:"index"` // pending, completed, cancelled
	Type            string     `json:"type"`                // normal, dispatch
	Source          string     `json:"source"`              // match, legacy
	DispatchOrderID *uuid.UUID `json:"dispatch_order_id" gorm:"type:uuid"`
	ProductTitle    string     `json:"product_title"`
	ProductImage    string     `json:"product_image"`
	ProductName     string     `json:"product_name"` // "<title> x <quantity>" snapshot
	UnitPrice       *float64   `json:"unit_price"`
	Quantity        *int       `json:"quantity"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// DispatchOrder is an admin-seeded deterministic order at a specific
// sequence position for a user. Consumed (marked used) at settlement.
type DispatchOrder struct {
	ID          uuid.UUID  `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID  `json:"user_id" gorm:"type:uuid;index:idx_dispatch_user_task,unique"`
	TaskIndex   int        `json:"task_index" gorm:"index:idx_dispatch_user_task,unique"`
	MinAmount   float64    `json:"min_amount"`
	MaxAmount   float64    `json:"max_amount"`
	Status      string     `json:"status"` // pending, used
	TriggeredAt *time.Time `json:"triggered_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// LedgerEntry is an append-only record of a balance-affecting event.
// Never updated or deleted.
type LedgerEntry struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Type      string    `json:"type"` // task_reward, order_reward, adjustment, deposit, withdrawal
	Amount    float64   `json:"amount"`
	OrderNo   string    `json:"order_no"`
	Reason    string    `json:"reason"`
	CreatedBy uuid.UUID `json:"created_by" gorm:"type:uuid"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction mirrors balance-affecting events for reporting
type Transaction struct {
	ID          uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	UserID      uuid.UUID `json:"user_id" gorm:"type:uuid;index"`
	Type        string    `json:"type"`
	Amount      float64   `json:"amount"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is a catalog item the matcher may bind an order to.
// VIPLevel 0 means available to every tier.
type Product struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	Image     string    `json:"image"`
	VIPLevel  int       `json:"vip_level" gorm:"column:vip_level"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting is an admin-tunable key/value row
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
