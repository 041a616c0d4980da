package identities

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/taskora/taskora/pkg/models"
)

const testSecret = "test-secret-not-for-production"

func setupTestService(t *testing.T) (IdentityService, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	svc, err := NewService(zap.NewNop(), db, testSecret, 24)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, db
}

func TestRegisterDefaults(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if user.VIPLevel != 1 || !user.AllowGrab || user.Role != "user" {
		t.Errorf("unexpected defaults: %+v", user)
	}
	if user.InviteCode == "" {
		t.Error("expected a generated invite code")
	}
	if user.ReferrerID != nil {
		t.Error("expected no referrer without an invite code")
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "bob", Email: "bob@example.com", Password: "password123",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "bob", Email: "other@example.com", Password: "password123",
	}); err == nil {
		t.Error("expected duplicate username rejection")
	}
	if _, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "bob2", Email: "bob@example.com", Password: "password123",
	}); err == nil {
		t.Error("expected duplicate email rejection")
	}
}

func TestRegisterLinksReferrer(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	referrer, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "carol", Email: "carol@example.com", Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	invited, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "dave", Email: "dave@example.com", Password: "password123",
		InviteCode: referrer.InviteCode,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if invited.ReferrerID == nil || *invited.ReferrerID != referrer.ID {
		t.Errorf("referrer not linked: %v", invited.ReferrerID)
	}

	// An unknown invite code does not block registration.
	loner, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "erin", Email: "erin@example.com", Password: "password123",
		InviteCode: "NOSUCHCODE",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if loner.ReferrerID != nil {
		t.Error("expected no referrer for unknown invite code")
	}
}

func TestLoginAndValidateToken(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "frank", Email: "frank@example.com", Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	resp, err := svc.Login(ctx, &models.LoginRequest{Username: "frank", Password: "password123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.UserID != user.ID.String() || resp.Token == "" {
		t.Errorf("unexpected login response: %+v", resp)
	}

	subject, err := svc.ValidateToken(resp.Token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if subject != user.ID.String() {
		t.Errorf("subject = %s, want %s", subject, user.ID)
	}

	if _, err := svc.Login(ctx, &models.LoginRequest{Username: "frank", Password: "wrong"}); err == nil {
		t.Error("expected wrong password rejection")
	}
	if _, err := svc.Login(ctx, &models.LoginRequest{Username: "nobody", Password: "password123"}); err == nil {
		t.Error("expected unknown user rejection")
	}
}

func TestValidateTokenRejectsForgeries(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "grace", Email: "grace@example.com", Password: "password123",
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	resp, err := svc.Login(ctx, &models.LoginRequest{Username: "grace", Password: "password123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if _, err := svc.ValidateToken("not-a-jwt"); err == nil {
		t.Error("expected garbage token rejection")
	}

	// A token signed with a different secret must not validate.
	other, err := NewService(zap.NewNop(), nil, "another-secret", 24)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if _, err := other.ValidateToken(resp.Token); err == nil {
		t.Error("expected cross-secret token rejection")
	}
}

func TestIsAdmin(t *testing.T) {
	svc, db := setupTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, &models.RegisterRequest{
		Username: "heidi", Email: "heidi@example.com", Password: "password123",
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}

	admin, err := svc.IsAdmin(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("is admin failed: %v", err)
	}
	if admin {
		t.Error("fresh user must not be admin")
	}

	db.Model(&models.User{}).Where("id = ?", user.ID).Update("role", "admin")
	admin, err = svc.IsAdmin(ctx, user.ID.String())
	if err != nil {
		t.Fatalf("is admin failed: %v", err)
	}
	if !admin {
		t.Error("expected admin after role change")
	}

	if _, err := svc.IsAdmin(ctx, uuid.New().String()); err == nil {
		t.Error("expected unknown user error")
	}
}
