// Package task implements the order matching and settlement core: matching a
// provisional order to a user, and atomically settling it on confirmation.
//
// Matching never moves funds. All balance mutation happens inside the single
// settlement transaction, guarded by a conditional update on the order's
// pending status so an order can settle at most once.
package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/taskora/taskora/internal/config"
	"github.com/taskora/taskora/internal/ledger"
	"github.com/taskora/taskora/internal/matchcache"
	"github.com/taskora/taskora/internal/tier"
	"github.com/taskora/taskora/pkg/metrics"
	"github.com/taskora/taskora/pkg/models"
)

// TaskService defines the match/settle operations and the admin surface
// that manipulates their state (dispatch overrides, progress reset).
type TaskService interface {
	Start() error
	Stop() error

	Match(ctx context.Context, userID string) (*models.MatchResult, error)
	Confirm(ctx context.Context, userID, matchToken string) (*models.SettleResult, error)
	Submit(ctx context.Context, userID, orderID string) (*models.SettleResult, error)
	MyOrders(ctx context.Context, userID string, limit int) ([]*models.Order, error)

	UpsertDispatchOrder(ctx context.Context, userID string, req *models.DispatchOrderRequest) (*models.DispatchOrder, error)
	ListDispatchOrders(ctx context.Context, userID string) ([]*models.DispatchOrder, error)
	DeleteDispatchOrder(ctx context.Context, id string) error
	ResetProgress(ctx context.Context, userID string) (int, error)

	ListProducts(ctx context.Context) ([]*models.Product, error)
	CreateProduct(ctx context.Context, req *models.ProductRequest) (*models.Product, error)
}

// Service implements TaskService
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
	cache  matchcache.Cache
	tiers  tier.TierService
	cfg    config.MatchConfig
}

// NewService creates a new TaskService
func NewService(logger *zap.Logger, db *gorm.DB, cache matchcache.Cache, tiers tier.TierService, cfg config.MatchConfig) (TaskService, error) {
	if cfg.MinRatio <= 0 || cfg.MaxRatio < cfg.MinRatio {
		return nil, fmt.Errorf("invalid match ratio window [%v, %v]", cfg.MinRatio, cfg.MaxRatio)
	}
	return &Service{logger: logger, db: db, cache: cache, tiers: tiers, cfg: cfg}, nil
}

// Start starts the task service
func (s *Service) Start() error {
	s.logger.Info("Task service started")
	return nil
}

// Stop stops the task service and its match cache
func (s *Service) Stop() error {
	if err := s.cache.Close(); err != nil {
		s.logger.Error("failed to close match cache", zap.Error(err))
	}
	s.logger.Info("Task service stopped")
	return nil
}

// Match produces a provisional order for the user: a pending order row plus a
// single-use token. No funds move here.
func (s *Service) Match(ctx context.Context, userID string) (*models.MatchResult, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, errAccountNotFound
	}

	// One pending order per account. A new match is blocked until the
	// existing one settles or an admin cancels it.
	var pending models.Order
	err = s.db.WithContext(ctx).Select("id").
		Where("user_id = ? AND status = ?", uid, models.OrderStatusPending).
		First(&pending).Error
	if err == nil {
		metrics.MatchesTotal.WithLabelValues(CodePendingOrder).Inc()
		return nil, &Rejection{
			Code:    CodePendingOrder,
			Message: "You have an uncompleted order. Please complete it first.",
			OrderID: pending.ID.String(),
		}
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to check pending orders: %w", err)
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", uid).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			metrics.MatchesTotal.WithLabelValues(CodeAccountNotFound).Inc()
			return nil, errAccountNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if !user.AllowGrab {
		metrics.MatchesTotal.WithLabelValues(CodeGrabDisabled).Inc()
		return nil, errGrabDisabled
	}
	if user.Balance < s.cfg.BalanceFloor {
		metrics.MatchesTotal.WithLabelValues(CodeInsufficientBalance).Inc()
		return nil, &Rejection{
			Code:    CodeInsufficientBalance,
			Message: fmt.Sprintf("Insufficient balance (min %.0f USDT).", s.cfg.BalanceFloor),
		}
	}

	tierCfg := s.tiers.Resolve(ctx, user.VIPLevel)
	if user.TaskProgress >= tierCfg.TaskLimit {
		metrics.MatchesTotal.WithLabelValues(CodeQuotaExceeded).Inc()
		return nil, errQuotaExceeded
	}

	// Dispatch override for the next sequence position wins over the random
	// ratio draw. Its amount may exceed the current balance: the user is
	// expected to top up before confirming.
	nextIndex := user.TaskProgress + 1
	orderType := models.OrderTypeNormal
	var dispatchID *uuid.UUID
	var targetAmount float64

	var override models.DispatchOrder
	err = s.db.WithContext(ctx).
		Where("user_id = ? AND task_index = ? AND status = ?", uid, nextIndex, models.DispatchStatusPending).
		First(&override).Error
	switch {
	case err == nil:
		targetAmount = drawDispatchAmount(override.MinAmount, override.MaxAmount, s.cfg.MinLineTotal)
		dispatchID = &override.ID
		orderType = models.OrderTypeDispatch
	case err == gorm.ErrRecordNotFound:
		ratio := s.cfg.MinRatio + rand.Float64()*(s.cfg.MaxRatio-s.cfg.MinRatio)
		targetAmount = math.Floor(user.Balance * ratio)
		if targetAmount < s.cfg.MinLineTotal {
			targetAmount = s.cfg.MinLineTotal
		}
	default:
		return nil, fmt.Errorf("failed to check dispatch overrides: %w", err)
	}

	// Optional product binding reshapes the amount into unit price times
	// quantity; without a catalog item the target amount stands.
	orderAmount := targetAmount
	var unitPrice *float64
	var quantity *int
	var productTitle, productImage, productName string
	if product := s.pickProduct(ctx, user.Balance); product != nil {
		q := computeQuantity(targetAmount, product.Price, s.cfg.MinLineTotal, s.cfg.MaxQuantity)
		orderAmount = ledger.Round2(product.Price * float64(q))
		p := product.Price
		unitPrice = &p
		quantity = &q
		productTitle = product.Title
		productImage = product.Image
		productName = fmt.Sprintf("%s x %d", product.Title, q)
	}

	commission := ledger.Round4(orderAmount * tierCfg.CommissionRate)
	totalReturn := orderAmount + commission
	orderNo := fmt.Sprintf("ORD%d%s", time.Now().UnixMilli(), shortID(uid))

	order := &models.Order{
		ID:              uuid.New(),
		OrderNo:         orderNo,
		UserID:          uid,
		Amount:          orderAmount,
		Commission:      commission,
		Status:          models.OrderStatusPending,
		Type:            orderType,
		Source:          models.OrderSourceMatch,
		DispatchOrderID: dispatchID,
		ProductTitle:    productTitle,
		ProductImage:    productImage,
		ProductName:     productName,
		UnitPrice:       unitPrice,
		Quantity:        quantity,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(order).Error; err != nil {
		// Lost a photo-finish race against another match for this account:
		// the partial unique index on pending orders rejected the insert.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			metrics.MatchesTotal.WithLabelValues(CodePendingOrder).Inc()
			rej := &Rejection{
				Code:    CodePendingOrder,
				Message: "You have an uncompleted order. Please complete it first.",
			}
			var winner models.Order
			if err := s.db.WithContext(ctx).Select("id").
				Where("user_id = ? AND status = ?", uid, models.OrderStatusPending).
				First(&winner).Error; err == nil {
				rej.OrderID = winner.ID.String()
			}
			return nil, rej
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	token, err := matchcache.NewToken()
	if err != nil {
		return nil, err
	}
	entry := &matchcache.Entry{
		UserID:          uid,
		OrderID:         order.ID,
		OrderNo:         orderNo,
		Amount:          orderAmount,
		Commission:      commission,
		TotalReturn:     totalReturn,
		CommissionRate:  tierCfg.CommissionRate,
		OrderType:       orderType,
		DispatchOrderID: dispatchID,
		ProductName:     productName,
		UnitPrice:       unitPrice,
		Quantity:        quantity,
		CreatedAt:       time.Now(),
	}
	if err := s.cache.Put(ctx, token, entry); err != nil {
		// The pending order stays settleable by id via submit; only the
		// token path is lost.
		s.logger.Error("failed to cache match token",
			zap.String("order_no", orderNo), zap.Error(err))
		return nil, fmt.Errorf("failed to cache match token: %w", err)
	}

	metrics.MatchesTotal.WithLabelValues("ok").Inc()
	s.logger.Info("order matched",
		zap.String("user_id", uid.String()),
		zap.String("order_no", orderNo),
		zap.String("type", orderType),
		zap.Float64("amount", orderAmount),
		zap.Float64("commission", commission))

	return &models.MatchResult{
		MatchToken:     token,
		OrderNo:        orderNo,
		Amount:         orderAmount,
		ProductName:    productName,
		UnitPrice:      unitPrice,
		Quantity:       quantity,
		Commission:     commission,
		CommissionRate: tierCfg.CommissionRate,
		TotalReturn:    totalReturn,
	}, nil
}

// Confirm consumes a match token and settles its order
func (s *Service) Confirm(ctx context.Context, userID, matchToken string) (*models.SettleResult, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, errUserNotFound
	}

	entry, err := s.cache.Get(ctx, matchToken)
	if err != nil {
		return nil, fmt.Errorf("failed to load match token: %w", err)
	}
	if entry == nil || entry.UserID != uid {
		metrics.SettlementsTotal.WithLabelValues("confirm", CodeInvalidToken).Inc()
		return nil, errInvalidToken
	}
	// Single use: the token dies here regardless of how settlement goes.
	// A failed settlement leaves the pending order settleable via submit.
	if err := s.cache.Delete(ctx, matchToken); err != nil {
		s.logger.Error("failed to delete match token", zap.Error(err))
	}

	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", uid).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user.Balance < entry.Amount {
		metrics.SettlementsTotal.WithLabelValues("confirm", CodeInsufficientBalance).Inc()
		return nil, errInsufficientBalance
	}

	progress, err := s.settle(ctx, uid, entry.OrderID, entry.OrderNo, entry.Amount, entry.Commission, entry.TotalReturn, entry.DispatchOrderID)
	if err != nil {
		if rej, ok := err.(*Rejection); ok {
			metrics.SettlementsTotal.WithLabelValues("confirm", rej.Code).Inc()
		}
		return nil, err
	}

	metrics.SettlementsTotal.WithLabelValues("confirm", "ok").Inc()
	return &models.SettleResult{
		OrderNo:      entry.OrderNo,
		Amount:       entry.Amount,
		ProductName:  entry.ProductName,
		UnitPrice:    entry.UnitPrice,
		Quantity:     entry.Quantity,
		Commission:   entry.Commission,
		TotalReturn:  entry.TotalReturn,
		TaskProgress: progress,
	}, nil
}

// Submit settles a pending order directly by id, without a live token. Match
// flow orders reach the exact same final state as Confirm; legacy pre-debit
// orders release their frozen amount instead.
func (s *Service) Submit(ctx context.Context, userID, orderID string) (*models.SettleResult, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, errUserNotFound
	}
	oid, err := uuid.Parse(orderID)
	if err != nil {
		return nil, errOrderNotFound
	}

	var order models.Order
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", oid, uid).First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			metrics.SettlementsTotal.WithLabelValues("submit", CodeOrderNotFound).Inc()
			return nil, errOrderNotFound
		}
		return nil, fmt.Errorf("failed to find order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		metrics.SettlementsTotal.WithLabelValues("submit", CodeAlreadyProcessed).Inc()
		return nil, errAlreadyProcessed
	}

	if order.Source == models.OrderSourceMatch {
		commission := order.Commission
		if commission == 0 {
			commission = ledger.Round4(order.Amount * tier.DefaultCommissionRate)
		}
		totalReturn := order.Amount + commission

		var user models.User
		if err := s.db.WithContext(ctx).Where("id = ?", uid).First(&user).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, errUserNotFound
			}
			return nil, fmt.Errorf("failed to find user: %w", err)
		}
		if user.Balance < order.Amount {
			metrics.SettlementsTotal.WithLabelValues("submit", CodeInsufficientBalance).Inc()
			return nil, errInsufficientBalance
		}

		progress, err := s.settle(ctx, uid, order.ID, order.OrderNo, order.Amount, commission, totalReturn, order.DispatchOrderID)
		if err != nil {
			if rej, ok := err.(*Rejection); ok {
				metrics.SettlementsTotal.WithLabelValues("submit", rej.Code).Inc()
			}
			return nil, err
		}

		metrics.SettlementsTotal.WithLabelValues("submit", "ok").Inc()
		return &models.SettleResult{
			OrderNo:      order.OrderNo,
			Amount:       order.Amount,
			ProductName:  order.ProductName,
			UnitPrice:    order.UnitPrice,
			Quantity:     order.Quantity,
			Commission:   commission,
			TotalReturn:  totalReturn,
			TaskProgress: progress,
		}, nil
	}

	return s.submitLegacy(ctx, uid, &order)
}

// settle is the single settlement primitive behind Confirm and Submit.
//
// All mutations ride one transaction. The conditional update on the order's
// pending status is the at-most-once guard: of two racing settlements, only
// one flips the status, the other rolls back having changed nothing. The
// balance update re-checks funds in its WHERE clause for the same reason.
func (s *Service) settle(ctx context.Context, userID, orderID uuid.UUID, orderNo string, amount, commission, totalReturn float64, dispatchID *uuid.UUID) (int, error) {
	start := time.Now()

	var progress int
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	res := tx.Model(&models.Order{}).
		Where("id = ? AND user_id = ? AND status = ?", orderID, userID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":       models.OrderStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to complete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return 0, errAlreadyProcessed
	}

	res = tx.Model(&models.User{}).
		Where("id = ? AND balance >= ?", userID, amount).
		Updates(map[string]interface{}{
			"balance":       gorm.Expr("balance - ? + ?", amount, totalReturn),
			"task_progress": gorm.Expr("task_progress + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to update balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		return 0, errInsufficientBalance
	}

	if dispatchID != nil {
		if err := tx.Model(&models.DispatchOrder{}).
			Where("id = ?", *dispatchID).
			Updates(map[string]interface{}{
				"status":       models.DispatchStatusUsed,
				"triggered_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("failed to mark dispatch order used: %w", err)
		}
	}

	if err := ledger.Append(tx, &models.LedgerEntry{
		UserID:    userID,
		Type:      ledger.EntryTaskReward,
		Amount:    commission,
		OrderNo:   orderNo,
		Reason:    "Task commission",
		CreatedBy: userID,
	}); err != nil {
		tx.Rollback()
		return 0, err
	}

	if err := tx.Create(&models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        "task_commission",
		Amount:      commission,
		Description: fmt.Sprintf("Task commission: %s", orderNo),
		CreatedAt:   now,
	}).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Model(&models.User{}).Select("task_progress").
		Where("id = ?", userID).Scan(&progress).Error; err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("failed to read task progress: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return 0, fmt.Errorf("failed to commit settlement: %w", err)
	}

	metrics.SettlementLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("order settled",
		zap.String("user_id", userID.String()),
		zap.String("order_no", orderNo),
		zap.Float64("amount", amount),
		zap.Float64("commission", commission))
	return progress, nil
}

// submitLegacy completes an order from the retired pre-debit flow: its amount
// was moved to frozen_balance at creation, so completion releases the freeze
// and credits principal plus commission.
func (s *Service) submitLegacy(ctx context.Context, userID uuid.UUID, order *models.Order) (*models.SettleResult, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, errUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	tierCfg := s.tiers.Resolve(ctx, user.VIPLevel)
	commission := ledger.Round4(order.Amount * tierCfg.CommissionRate)
	totalReturn := order.Amount + commission

	var progress int
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", tx.Error)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	now := time.Now()
	res := tx.Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(map[string]interface{}{
			"status":       models.OrderStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to complete order: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		metrics.SettlementsTotal.WithLabelValues("submit", CodeAlreadyProcessed).Inc()
		return nil, errAlreadyProcessed
	}

	res = tx.Model(&models.User{}).
		Where("id = ? AND frozen_balance >= ?", userID, order.Amount).
		Updates(map[string]interface{}{
			"frozen_balance": gorm.Expr("frozen_balance - ?", order.Amount),
			"balance":        gorm.Expr("balance + ?", totalReturn),
			"task_progress":  gorm.Expr("task_progress + 1"),
			"updated_at":     now,
		})
	if res.Error != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to release frozen balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		tx.Rollback()
		metrics.SettlementsTotal.WithLabelValues("submit", CodeInsufficientBalance).Inc()
		return nil, errInsufficientBalance
	}

	if err := ledger.Append(tx, &models.LedgerEntry{
		UserID:    userID,
		Type:      ledger.EntryOrderReward,
		Amount:    totalReturn,
		OrderNo:   order.OrderNo,
		Reason:    "Order completed",
		CreatedBy: userID,
	}); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Create(&models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        "task_commission",
		Amount:      commission,
		Description: fmt.Sprintf("Task commission: %s", order.OrderNo),
		CreatedAt:   now,
	}).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to record transaction: %w", err)
	}

	if err := tx.Model(&models.User{}).Select("task_progress").
		Where("id = ?", userID).Scan(&progress).Error; err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to read task progress: %w", err)
	}

	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	metrics.SettlementsTotal.WithLabelValues("submit", "ok").Inc()
	return &models.SettleResult{
		OrderNo:      order.OrderNo,
		Amount:       order.Amount,
		Commission:   commission,
		TotalReturn:  totalReturn,
		TaskProgress: progress,
	}, nil
}

// MyOrders returns the caller's recent orders, newest first
func (s *Service) MyOrders(ctx context.Context, userID string, limit int) ([]*models.Order, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	var orders []*models.Order
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

// pickProduct selects a random tier-unrestricted catalog item. A product
// priced above the user's balance is skipped so quantity one stays payable.
func (s *Service) pickProduct(ctx context.Context, balance float64) *models.Product {
	q := s.db.WithContext(ctx).Where("vip_level = 0 AND price > 0")
	if balance > 0 {
		q = q.Where("price <= ?", balance)
	}
	var product models.Product
	if err := q.Order("RANDOM()").First(&product).Error; err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Error("product pick failed", zap.Error(err))
		}
		return nil
	}
	return &product
}

// drawDispatchAmount draws an integer amount from the override's range,
// clamped to the configured floor
func drawDispatchAmount(minAmount, maxAmount, floor float64) float64 {
	lo := math.Max(floor, minAmount)
	hi := math.Max(lo, maxAmount)
	amount := math.Floor(lo + rand.Float64()*(hi-lo+1))
	if amount < floor {
		amount = floor
	}
	if amount > hi {
		amount = hi
	}
	return amount
}

// computeQuantity converts a target amount into a product quantity:
// round(target/unit), at least 1, raised so the line total meets the minimum,
// capped to keep degenerate unit prices from producing absurd quantities.
func computeQuantity(targetAmount, unitPrice, minLineTotal float64, maxQuantity int) int {
	if unitPrice <= 0 || targetAmount <= 0 {
		return 1
	}
	q := int(math.Round(targetAmount / unitPrice))
	if q < 1 {
		q = 1
	}
	if minQ := int(math.Ceil(minLineTotal / unitPrice)); minQ > q {
		q = minQ
	}
	if q > maxQuantity {
		q = maxQuantity
	}
	return q
}

// shortID returns a compact user-derived suffix for order numbers
func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
