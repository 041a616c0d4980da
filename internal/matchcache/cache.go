// Package matchcache bridges the matched and confirmed states of an order
// with a short-lived, single-use token store.
//
// The cache is not a durable record of any monetary obligation. Losing an
// entry before confirmation only forces the user to re-match; the pending
// order row remains the durable record and stays settleable by id.
package matchcache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is the matching context carried from match to confirm
type Entry struct {
	UserID          uuid.UUID  `json:"user_id"`
	OrderID         uuid.UUID  `json:"order_id"`
	OrderNo         string     `json:"order_no"`
	Amount          float64    `json:"amount"`
	Commission      float64    `json:"commission"`
	TotalReturn     float64    `json:"total_return"`
	CommissionRate  float64    `json:"commission_rate"`
	OrderType       string     `json:"order_type"`
	DispatchOrderID *uuid.UUID `json:"dispatch_order_id,omitempty"`
	ProductName     string     `json:"product_name,omitempty"`
	UnitPrice       *float64   `json:"unit_price,omitempty"`
	Quantity        *int       `json:"quantity,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Cache is a TTL-bounded token store. Get returns (nil, nil) for tokens that
// are absent or expired; callers must not distinguish the two.
type Cache interface {
	Put(ctx context.Context, token string, entry *Entry) error
	Get(ctx context.Context, token string) (*Entry, error)
	Delete(ctx context.Context, token string) error
	Close() error
}

// NewToken generates an unguessable match token (16 random bytes, hex)
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate match token: %w", err)
	}
	return "mt_" + hex.EncodeToString(buf), nil
}
