// HTTP surface tests: auth guards, the match/confirm flow end to end, the
// legacy rejection envelope, and the admin surface.
package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/taskora/taskora/internal/config"
	"github.com/taskora/taskora/internal/identities"
	"github.com/taskora/taskora/internal/ledger"
	"github.com/taskora/taskora/internal/matchcache"
	"github.com/taskora/taskora/internal/task"
	"github.com/taskora/taskora/internal/tier"
	"github.com/taskora/taskora/pkg/models"
)

func setupTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.VIPLevel{}, &models.Order{}, &models.DispatchOrder{},
		&models.LedgerEntry{}, &models.Transaction{}, &models.Product{}, &models.Setting{},
	))

	logger := zap.NewNop()
	cache := matchcache.NewMemoryCache(logger, 5*time.Minute, time.Minute)
	t.Cleanup(func() { cache.Close() })

	identitiesSvc, err := identities.NewService(logger, db, "test-secret-not-for-production", 24)
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(logger, db)
	require.NoError(t, err)
	tierSvc, err := tier.NewService(logger, db)
	require.NoError(t, err)
	taskSvc, err := task.NewService(logger, db, cache, tierSvc, config.MatchConfig{
		MinRatio:     0.4,
		MaxRatio:     0.4,
		BalanceFloor: 10,
		MinLineTotal: 10,
		MaxQuantity:  1000,
	})
	require.NoError(t, err)

	return NewServer(logger, identitiesSvc, ledgerSvc, tierSvc, taskSvc).Router(), db
}

func doJSON(t *testing.T, router *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// registerAndLogin creates an account with the given balance and returns its
// id and bearer token.
func registerAndLogin(t *testing.T, router *gin.Engine, db *gorm.DB, username string, balance float64) (string, string) {
	t.Helper()
	w, resp := doJSON(t, router, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code, resp["message"])
	userID := resp["data"].(map[string]interface{})["id"].(string)

	if balance != 0 {
		require.NoError(t, db.Model(&models.User{}).Where("id = ?", userID).Update("balance", balance).Error)
	}

	w, resp = doJSON(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": username,
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token := resp["data"].(map[string]interface{})["token"].(string)
	return userID, token
}

func TestHealth(t *testing.T) {
	router, _ := setupTestServer(t)
	w, resp := doJSON(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
}

func TestAuthGuard(t *testing.T) {
	router, _ := setupTestServer(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/task/match", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/api/task/match", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRegisterValidation(t *testing.T) {
	router, _ := setupTestServer(t)

	w, _ := doJSON(t, router, http.MethodPost, "/api/auth/register", "", gin.H{
		"username": "ab", "email": "not-an-email", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = doJSON(t, router, http.MethodPost, "/api/auth/login", "", gin.H{
		"username": "nobody", "password": "password123",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMatchConfirmFlow(t *testing.T) {
	router, db := setupTestServer(t)
	_, token := registerAndLogin(t, router, db, "worker", 1000)

	w, resp := doJSON(t, router, http.MethodPost, "/api/task/match", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])
	data := resp["data"].(map[string]interface{})
	matchToken := data["match_token"].(string)
	assert.Equal(t, float64(400), data["amount"])
	assert.Equal(t, 2.0, data["commission"])

	w, resp = doJSON(t, router, http.MethodPost, "/api/task/confirm", token, gin.H{"match_token": matchToken})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])
	data = resp["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["task_progress"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/user/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1002), resp["data"].(map[string]interface{})["balance"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/user/ledger", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), resp["data"].(map[string]interface{})["total"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/task/my-orders", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	orders := resp["data"].([]interface{})
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusCompleted, orders[0].(map[string]interface{})["status"])
}

func TestRejectionEnvelope(t *testing.T) {
	router, db := setupTestServer(t)
	_, token := registerAndLogin(t, router, db, "poor", 5)

	// Rejections ride HTTP 200; the client reads the envelope.
	w, resp := doJSON(t, router, http.MethodPost, "/api/task/match", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, task.CodeInsufficientBalance, resp["code"])

	_, rich := registerAndLogin(t, router, db, "rich", 1000)
	w, resp = doJSON(t, router, http.MethodPost, "/api/task/match", rich, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"])

	w, resp = doJSON(t, router, http.MethodPost, "/api/task/match", rich, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, task.CodePendingOrder, resp["code"])
	assert.NotEmpty(t, resp["order_id"])
}

func TestConfirmBindingErrors(t *testing.T) {
	router, db := setupTestServer(t)
	_, token := registerAndLogin(t, router, db, "binder", 1000)

	w, _ := doJSON(t, router, http.MethodPost, "/api/task/confirm", token, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp := doJSON(t, router, http.MethodPost, "/api/task/confirm", token, gin.H{"match_token": "mt_bogus"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp["success"])
	assert.Equal(t, task.CodeInvalidToken, resp["code"])
}

func TestAdminGuardAndSurface(t *testing.T) {
	router, db := setupTestServer(t)
	userID, userToken := registerAndLogin(t, router, db, "mortal", 0)
	adminID, adminToken := registerAndLogin(t, router, db, "boss", 0)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", adminID).Update("role", "admin").Error)

	w, _ := doJSON(t, router, http.MethodGet, "/api/admin/vip-levels", userToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := doJSON(t, router, http.MethodPost, "/api/admin/vip-levels", adminToken, gin.H{
		"level": 2, "name": "VIP 2", "commission_rate": 0.012, "task_limit": 60,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/admin/vip-levels", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"].([]interface{}), 1)

	w, resp = doJSON(t, router, http.MethodPost, "/api/admin/users/"+userID+"/dispatch-orders", adminToken, gin.H{
		"task_index": 1, "min_amount": 200, "max_amount": 500,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/admin/users/"+userID+"/dispatch-orders", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"].([]interface{}), 1)

	w, _ = doJSON(t, router, http.MethodPost, "/api/admin/products", adminToken, gin.H{
		"title": "USB Hub", "price": -1,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = doJSON(t, router, http.MethodPost, "/api/admin/products", adminToken, gin.H{
		"title": "USB Hub", "price": 25.5,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/admin/products", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp["data"].([]interface{}), 1)
}

func TestAdminAdjustBalance(t *testing.T) {
	router, db := setupTestServer(t)
	userID, userToken := registerAndLogin(t, router, db, "target", 100)
	adminID, adminToken := registerAndLogin(t, router, db, "chief", 0)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", adminID).Update("role", "admin").Error)

	w, resp := doJSON(t, router, http.MethodPost, "/api/admin/users/"+userID+"/adjust-balance", adminToken, gin.H{
		"amount": 50, "reason": "promo credit",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodPost, "/api/admin/users/"+userID+"/adjust-balance", adminToken, gin.H{
		"amount": -30, "reason": "correction",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/user/me", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(120), resp["data"].(map[string]interface{})["balance"])

	w, resp = doJSON(t, router, http.MethodGet, "/api/admin/users/"+userID+"/ledger", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), resp["data"].(map[string]interface{})["total"])

	// An overdrawing debit is a precondition failure, not a storage failure.
	w, resp = doJSON(t, router, http.MethodPost, "/api/admin/users/"+userID+"/adjust-balance", adminToken, gin.H{
		"amount": -99999, "reason": "too much",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Insufficient balance.", resp["message"])

	w, _ = doJSON(t, router, http.MethodPost, "/api/admin/users/"+uuid.New().String()+"/adjust-balance", adminToken, gin.H{
		"amount": 10, "reason": "nobody home",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Balance unchanged by the failed attempts.
	w, resp = doJSON(t, router, http.MethodGet, "/api/user/me", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(120), resp["data"].(map[string]interface{})["balance"])
}

func TestResetProgressEndpoint(t *testing.T) {
	router, db := setupTestServer(t)
	userID, userToken := registerAndLogin(t, router, db, "resettee", 1000)
	adminID, adminToken := registerAndLogin(t, router, db, "resetter", 0)
	require.NoError(t, db.Model(&models.User{}).Where("id = ?", adminID).Update("role", "admin").Error)

	w, resp := doJSON(t, router, http.MethodPost, "/api/task/match", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])

	w, resp = doJSON(t, router, http.MethodPost, "/api/admin/users/"+userID+"/reset-progress", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, resp["success"], resp["message"])
	assert.Equal(t, float64(1), resp["data"].(map[string]interface{})["cancelled_orders"])

	// The user can match again after the reset.
	w, resp = doJSON(t, router, http.MethodPost, "/api/task/match", userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["success"], resp["message"])
}
