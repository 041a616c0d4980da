// Package ledger is the source of truth for user funds: the balance columns
// on users and the append-only ledger of balance-affecting events.
//
// Settlement mutates balances inside its own transaction (internal/task) and
// records entries through Append. The Credit/Debit operations here are the
// explicitly audited admin adjustment path; nothing else writes balances.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskora/taskora/pkg/models"
)

// Precondition failures callers can match on. Neither implies any state
// change happened.
var (
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// Entry types recorded in the ledger
const (
	EntryTaskReward  = "task_reward"
	EntryOrderReward = "order_reward"
	EntryAdjustment  = "adjustment"
	EntryDeposit     = "deposit"
	EntryWithdrawal  = "withdrawal"
)

// LedgerService defines account and ledger operations
type LedgerService interface {
	Start() error
	Stop() error
	GetUser(ctx context.Context, userID string) (*models.User, error)
	Credit(ctx context.Context, userID string, amount float64, entryType, orderNo, reason, actorID string) error
	Debit(ctx context.Context, userID string, amount float64, entryType, orderNo, reason, actorID string) error
	Entries(ctx context.Context, userID string, limit, offset int) ([]*models.LedgerEntry, int64, error)
}

// Service implements LedgerService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new LedgerService
func NewService(logger *zap.Logger, db *gorm.DB) (LedgerService, error) {
	return &Service{logger: logger, db: db}, nil
}

// Start starts the ledger service
func (s *Service) Start() error {
	s.logger.Info("Ledger service started")
	return nil
}

// Stop stops the ledger service
func (s *Service) Stop() error {
	s.logger.Info("Ledger service stopped")
	return nil
}

// GetUser gets a user by id
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// Credit adds funds to a user's balance and appends a ledger entry
func (s *Service) Credit(ctx context.Context, userID string, amount float64, entryType, orderNo, reason, actorID string) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive")
	}
	return s.adjust(ctx, userID, amount, entryType, orderNo, reason, actorID)
}

// Debit removes funds from a user's balance and appends a ledger entry.
// Fails without side effects if the balance would go negative.
func (s *Service) Debit(ctx context.Context, userID string, amount float64, entryType, orderNo, reason, actorID string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	return s.adjust(ctx, userID, -amount, entryType, orderNo, reason, actorID)
}

func (s *Service) adjust(ctx context.Context, userID string, delta float64, entryType, orderNo, reason, actorID string) error {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return fmt.Errorf("invalid user id: %w", err)
	}
	actor, err := uuid.Parse(actorID)
	if err != nil {
		return fmt.Errorf("invalid actor id: %w", err)
	}
	delta = Round2(delta)

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	q := tx.Model(&models.User{}).Where("id = ?", uid)
	if delta < 0 {
		// Guard inside the update so a concurrent debit cannot overdraw.
		q = q.Where("balance >= ?", -delta)
	}
	res := q.Updates(map[string]interface{}{
		"balance":    gorm.Expr("balance + ?", delta),
		"updated_at": time.Now(),
	})
	if res.Error != nil {
		tx.Rollback()
		return fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		var count int64
		if err := s.db.Model(&models.User{}).Where("id = ?", uid).Count(&count).Error; err == nil && count == 0 {
			return ErrUserNotFound
		}
		return ErrInsufficientBalance
	}

	if err := Append(tx, &models.LedgerEntry{
		UserID:    uid,
		Type:      entryType,
		Amount:    delta,
		OrderNo:   orderNo,
		Reason:    reason,
		CreatedBy: actor,
	}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Entries lists ledger entries for a user, newest first
func (s *Service) Entries(ctx context.Context, userID string, limit, offset int) ([]*models.LedgerEntry, int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}

	var entries []*models.LedgerEntry
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find ledger entries: %w", err)
	}
	return entries, count, nil
}

// Append writes a ledger entry within the caller's transaction. The ledger is
// append-only; entries are never updated or deleted.
func Append(tx *gorm.DB, entry *models.LedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := tx.Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

// Round2 rounds a monetary amount to 2 decimal places
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Round4 rounds a commission amount to 4 decimal places
func Round4(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
