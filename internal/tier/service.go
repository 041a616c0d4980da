// Package tier resolves VIP levels to commission rates and daily quotas.
package tier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskora/taskora/pkg/models"
)

// Default tier used when the requested level has no configuration row.
// A data-entry gap must not block all order flow.
const (
	DefaultTaskLimit      = 40
	DefaultCommissionRate = 0.005
)

// TierService defines tier resolution and admin CRUD
type TierService interface {
	Resolve(ctx context.Context, level int) *models.TierConfig
	List(ctx context.Context) ([]*models.VIPLevel, error)
	Upsert(ctx context.Context, req *models.TierRequest) (*models.VIPLevel, error)
	Delete(ctx context.Context, id string) error
}

// Service implements TierService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a new TierService
func NewService(logger *zap.Logger, db *gorm.DB) (TierService, error) {
	return &Service{logger: logger, db: db}, nil
}

// Resolve maps a tier level to its commission rate and daily quota.
// Never fails: missing rows fall back to the default tier.
func (s *Service) Resolve(ctx context.Context, level int) *models.TierConfig {
	if level < 1 {
		level = 1
	}
	var row models.VIPLevel
	if err := s.db.WithContext(ctx).Where("level = ?", level).First(&row).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Error("tier lookup failed, using default", zap.Int("level", level), zap.Error(err))
		}
		return &models.TierConfig{Level: level, CommissionRate: DefaultCommissionRate, TaskLimit: DefaultTaskLimit}
	}

	cfg := &models.TierConfig{Level: row.Level, CommissionRate: row.CommissionRate, TaskLimit: row.TaskLimit}
	if cfg.TaskLimit <= 0 {
		cfg.TaskLimit = DefaultTaskLimit
	}
	if cfg.CommissionRate <= 0 {
		cfg.CommissionRate = DefaultCommissionRate
	}
	return cfg
}

// List returns all tier definitions ordered by level
func (s *Service) List(ctx context.Context) ([]*models.VIPLevel, error) {
	var rows []*models.VIPLevel
	if err := s.db.WithContext(ctx).Order("level ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	return rows, nil
}

// Upsert creates a tier definition, or updates the existing row for the level
func (s *Service) Upsert(ctx context.Context, req *models.TierRequest) (*models.VIPLevel, error) {
	var row models.VIPLevel
	err := s.db.WithContext(ctx).Where("level = ?", req.Level).First(&row).Error
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to find tier: %w", err)
	}

	now := time.Now()
	if err == gorm.ErrRecordNotFound {
		row = models.VIPLevel{
			ID:        uuid.New(),
			Level:     req.Level,
			CreatedAt: now,
		}
	}
	row.Name = req.Name
	row.Price = req.Price
	row.CommissionRate = req.CommissionRate
	row.TaskLimit = req.TaskLimit
	row.MinBalance = req.MinBalance
	row.UpdatedAt = now

	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to save tier: %w", err)
	}
	return &row, nil
}

// Delete removes a tier definition by id
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.VIPLevel{}).Error; err != nil {
		return fmt.Errorf("failed to delete tier: %w", err)
	}
	return nil
}
