package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskora/taskora/pkg/models"
)

// UpsertDispatchOrder creates an override for (user, position), or updates the
// existing one in place and resets it to pending. Overrides never touch
// balances; they only steer the matcher's amount draw and are marked used by
// settlement.
func (s *Service) UpsertDispatchOrder(ctx context.Context, userID string, req *models.DispatchOrderRequest) (*models.DispatchOrder, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, errUserNotFound
	}
	if req.TaskIndex < 1 {
		return nil, fmt.Errorf("task index must be positive")
	}
	if req.MinAmount < 0 || req.MaxAmount < req.MinAmount {
		return nil, fmt.Errorf("invalid amount range [%v, %v]", req.MinAmount, req.MaxAmount)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("failed to check user: %w", err)
	}
	if count == 0 {
		return nil, errUserNotFound
	}

	now := time.Now()
	var override models.DispatchOrder
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND task_index = ?", uid, req.TaskIndex).
		First(&override).Error
	switch {
	case err == nil:
		override.MinAmount = req.MinAmount
		override.MaxAmount = req.MaxAmount
		override.Status = models.DispatchStatusPending
		override.TriggeredAt = nil
		override.UpdatedAt = now
		if err := s.db.WithContext(ctx).Save(&override).Error; err != nil {
			return nil, fmt.Errorf("failed to update dispatch order: %w", err)
		}
	case err == gorm.ErrRecordNotFound:
		override = models.DispatchOrder{
			ID:        uuid.New(),
			UserID:    uid,
			TaskIndex: req.TaskIndex,
			MinAmount: req.MinAmount,
			MaxAmount: req.MaxAmount,
			Status:    models.DispatchStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.db.WithContext(ctx).Create(&override).Error; err != nil {
			return nil, fmt.Errorf("failed to create dispatch order: %w", err)
		}
	default:
		return nil, fmt.Errorf("failed to find dispatch order: %w", err)
	}

	s.logger.Info("dispatch order upserted",
		zap.String("user_id", uid.String()),
		zap.Int("task_index", req.TaskIndex),
		zap.Float64("min_amount", req.MinAmount),
		zap.Float64("max_amount", req.MaxAmount))
	return &override, nil
}

// ListDispatchOrders returns a user's overrides ordered by sequence position
func (s *Service) ListDispatchOrders(ctx context.Context, userID string) ([]*models.DispatchOrder, error) {
	var overrides []*models.DispatchOrder
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("task_index ASC").Find(&overrides).Error; err != nil {
		return nil, fmt.Errorf("failed to list dispatch orders: %w", err)
	}
	return overrides, nil
}

// DeleteDispatchOrder removes an override unconditionally
func (s *Service) DeleteDispatchOrder(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.DispatchOrder{}).Error; err != nil {
		return fmt.Errorf("failed to delete dispatch order: %w", err)
	}
	return nil
}

// ResetProgress cancels all of a user's pending orders and zeroes the daily
// counter. Only legacy pre-debit orders get their amount refunded from the
// frozen balance; match-flow orders never debited anything, so cancelling
// them must not credit anything either. Returns the cancelled order count.
func (s *Service) ResetProgress(ctx context.Context, userID string) (int, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return 0, errUserNotFound
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", uid).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to check user: %w", err)
	}
	if count == 0 {
		return 0, errUserNotFound
	}

	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	var pending []models.Order
	if err := tx.Where("user_id = ? AND status = ?", uid, models.OrderStatusPending).Find(&pending).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to find pending orders: %w", err)
	}

	now := time.Now()
	var refund float64
	for _, o := range pending {
		if err := tx.Model(&models.Order{}).Where("id = ?", o.ID).
			Updates(map[string]interface{}{
				"status":     models.OrderStatusCancelled,
				"updated_at": now,
			}).Error; err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to cancel order: %w", err)
		}
		if o.Source != models.OrderSourceMatch {
			refund += o.Amount
		}
	}

	updates := map[string]interface{}{
		"task_progress": 0,
		"updated_at":    now,
	}
	if refund > 0 {
		updates["balance"] = gorm.Expr("balance + ?", refund)
		updates["frozen_balance"] = gorm.Expr("frozen_balance - ?", refund)
	}
	if err := tx.Model(&models.User{}).Where("id = ?", uid).Updates(updates).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to reset progress: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("failed to commit reset: %w", err)
	}

	s.logger.Info("task progress reset",
		zap.String("user_id", uid.String()),
		zap.Int("cancelled_orders", len(pending)),
		zap.Float64("refund", refund))
	return len(pending), nil
}
