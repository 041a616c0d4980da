package task

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/taskora/taskora/pkg/models"
)

func TestUpsertDispatchOrderUpdatesInPlace(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	user := seedUser(t, db, 1000)

	first, err := svc.UpsertDispatchOrder(ctx, user.ID.String(), &models.DispatchOrderRequest{
		TaskIndex: 5, MinAmount: 100, MaxAmount: 200,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// Mark it used, then upsert the same position again.
	now := time.Now()
	db.Model(&models.DispatchOrder{}).Where("id = ?", first.ID).
		Updates(map[string]interface{}{"status": models.DispatchStatusUsed, "triggered_at": now})

	second, err := svc.UpsertDispatchOrder(ctx, user.ID.String(), &models.DispatchOrderRequest{
		TaskIndex: 5, MinAmount: 300, MaxAmount: 400,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("upsert created a second row for the same position")
	}
	if second.Status != models.DispatchStatusPending || second.TriggeredAt != nil {
		t.Errorf("upsert did not re-arm the override: %+v", second)
	}
	if second.MinAmount != 300 || second.MaxAmount != 400 {
		t.Errorf("range not updated: [%v, %v]", second.MinAmount, second.MaxAmount)
	}

	var count int64
	db.Model(&models.DispatchOrder{}).Where("user_id = ?", user.ID).Count(&count)
	if count != 1 {
		t.Errorf("override rows = %d, want 1", count)
	}
}

func TestUpsertDispatchOrderValidation(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	user := seedUser(t, db, 1000)

	if _, err := svc.UpsertDispatchOrder(ctx, user.ID.String(), &models.DispatchOrderRequest{
		TaskIndex: 0, MinAmount: 100, MaxAmount: 200,
	}); err == nil {
		t.Error("expected error for zero task index")
	}
	if _, err := svc.UpsertDispatchOrder(ctx, user.ID.String(), &models.DispatchOrderRequest{
		TaskIndex: 1, MinAmount: 200, MaxAmount: 100,
	}); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := svc.UpsertDispatchOrder(ctx, uuid.New().String(), &models.DispatchOrderRequest{
		TaskIndex: 1, MinAmount: 100, MaxAmount: 200,
	}); err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestListAndDeleteDispatchOrders(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	user := seedUser(t, db, 1000)

	for _, idx := range []int{3, 1, 2} {
		if _, err := svc.UpsertDispatchOrder(ctx, user.ID.String(), &models.DispatchOrderRequest{
			TaskIndex: idx, MinAmount: 100, MaxAmount: 200,
		}); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	overrides, err := svc.ListDispatchOrders(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(overrides) != 3 {
		t.Fatalf("overrides = %d, want 3", len(overrides))
	}
	for i, o := range overrides {
		if o.TaskIndex != i+1 {
			t.Errorf("overrides not ordered by position: %d at slot %d", o.TaskIndex, i)
		}
	}

	if err := svc.DeleteDispatchOrder(ctx, overrides[0].ID.String()); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	overrides, _ = svc.ListDispatchOrders(ctx, user.ID.String())
	if len(overrides) != 2 {
		t.Errorf("overrides after delete = %d, want 2", len(overrides))
	}
}

func TestResetProgressRefundsOnlyLegacyOrders(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	seedTier(t, db, 1, 0.005, 40)
	user := seedUser(t, db, 1000)
	db.Model(&models.User{}).Where("id = ?", user.ID).
		Updates(map[string]interface{}{"frozen_balance": 80, "task_progress": 7})

	// Pending match order: cancelling it must not credit anything.
	if _, err := svc.Match(ctx, user.ID.String()); err != nil {
		t.Fatalf("match failed: %v", err)
	}
	// Pending legacy order: its 80 came out of the balance at creation.
	legacy := &models.Order{
		ID:        uuid.New(),
		OrderNo:   "ORDLEGACY2",
		UserID:    user.ID,
		Amount:    80,
		Status:    models.OrderStatusPending,
		Type:      models.OrderTypeNormal,
		Source:    models.OrderSourceLegacy,
		CreatedAt: time.Now(),
	}
	if err := db.Create(legacy).Error; err != nil {
		t.Fatalf("failed to seed legacy order: %v", err)
	}

	cancelled, err := svc.ResetProgress(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if cancelled != 2 {
		t.Errorf("cancelled = %d, want 2", cancelled)
	}

	after := getUser(t, db, user.ID)
	if after.TaskProgress != 0 {
		t.Errorf("task progress = %d, want 0", after.TaskProgress)
	}
	if after.Balance != 1080 {
		t.Errorf("balance = %v, want 1080 (legacy refund only)", after.Balance)
	}
	if after.FrozenBalance != 0 {
		t.Errorf("frozen balance = %v, want 0", after.FrozenBalance)
	}

	var pending int64
	db.Model(&models.Order{}).Where("user_id = ? AND status = ?", user.ID, models.OrderStatusPending).Count(&pending)
	if pending != 0 {
		t.Errorf("pending orders after reset = %d", pending)
	}

	// The slate is clean: matching works again.
	if _, err := svc.Match(ctx, user.ID.String()); err != nil {
		t.Errorf("match after reset failed: %v", err)
	}
}

func TestResetProgressUnknownUser(t *testing.T) {
	svc, _ := setupTestService(t)
	_, err := svc.ResetProgress(context.Background(), uuid.New().String())
	if rej, ok := err.(*Rejection); !ok || rej.Code != CodeUserNotFound {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}
