package task

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskora/taskora/pkg/models"
)

// ListProducts returns the catalog, newest first
func (s *Service) ListProducts(ctx context.Context) ([]*models.Product, error) {
	var products []*models.Product
	if err := s.db.WithContext(ctx).Order("created_at DESC").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// CreateProduct adds a catalog item the matcher can bind orders to
func (s *Service) CreateProduct(ctx context.Context, req *models.ProductRequest) (*models.Product, error) {
	if req.Price <= 0 {
		return nil, fmt.Errorf("product price must be positive")
	}

	now := time.Now()
	product := &models.Product{
		ID:        uuid.New(),
		Title:     req.Title,
		Price:     req.Price,
		Image:     req.Image,
		VIPLevel:  req.VIPLevel,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("product created",
		zap.String("product_id", product.ID.String()),
		zap.String("title", product.Title),
		zap.Float64("price", product.Price))
	return product, nil
}
