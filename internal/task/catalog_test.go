package task

import (
	"context"
	"testing"

	"github.com/taskora/taskora/pkg/models"
)

func TestCreateAndListProducts(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateProduct(ctx, &models.ProductRequest{Title: "Free", Price: 0}); err == nil {
		t.Error("expected zero price rejection")
	}

	for _, title := range []string{"Earbuds", "Charger"} {
		if _, err := svc.CreateProduct(ctx, &models.ProductRequest{Title: title, Price: 9.99}); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}

	products, err := svc.ListProducts(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(products) != 2 {
		t.Errorf("products = %d, want 2", len(products))
	}
}

func TestMatchSkipsTierRestrictedProducts(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()
	seedTier(t, db, 1, 0.005, 40)
	user := seedUser(t, db, 1000)

	// Only a restricted product exists: the match must fall back to the bare
	// target amount instead of binding it.
	if _, err := svc.CreateProduct(ctx, &models.ProductRequest{
		Title: "VIP Watch", Price: 50, VIPLevel: 3,
	}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	match, err := svc.Match(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if match.UnitPrice != nil || match.Quantity != nil {
		t.Errorf("restricted product was bound: %+v", match)
	}
	if match.Amount != 400 {
		t.Errorf("amount = %v, want 400", match.Amount)
	}
}
