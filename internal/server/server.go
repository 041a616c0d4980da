// Package server exposes the HTTP surface over the task, ledger, tier and
// identity services.
package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/taskora/taskora/internal/identities"
	"github.com/taskora/taskora/internal/ledger"
	"github.com/taskora/taskora/internal/task"
	"github.com/taskora/taskora/internal/tier"
)

// Server represents the HTTP server
type Server struct {
	logger        *zap.Logger
	identitiesSvc identities.IdentityService
	ledgerSvc     ledger.LedgerService
	tierSvc       tier.TierService
	taskSvc       task.TaskService
}

// NewServer creates a new HTTP server
func NewServer(
	logger *zap.Logger,
	identitiesSvc identities.IdentityService,
	ledgerSvc ledger.LedgerService,
	tierSvc tier.TierService,
	taskSvc task.TaskService,
) *Server {
	return &Server{
		logger:        logger,
		identitiesSvc: identitiesSvc,
		ledgerSvc:     ledgerSvc,
		tierSvc:       tierSvc,
		taskSvc:       taskSvc,
	}
}

// Router creates the HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, "2006-01-02T15:04:05Z07:00", true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.handleRegister)
			auth.POST("/login", s.handleLogin)
		}

		taskGroup := api.Group("/task", s.authMiddleware())
		{
			taskGroup.POST("/match", s.handleMatch)
			taskGroup.POST("/confirm", s.handleConfirm)
			taskGroup.POST("/submit", s.handleSubmit)
			taskGroup.GET("/my-orders", s.handleMyOrders)
		}

		user := api.Group("/user", s.authMiddleware())
		{
			user.GET("/me", s.handleGetMe)
			user.GET("/ledger", s.handleMyLedger)
		}

		admin := api.Group("/admin", s.authMiddleware(), s.adminMiddleware())
		{
			admin.GET("/vip-levels", s.handleListTiers)
			admin.POST("/vip-levels", s.handleUpsertTier)
			admin.DELETE("/vip-levels/:id", s.handleDeleteTier)

			admin.GET("/products", s.handleListProducts)
			admin.POST("/products", s.handleCreateProduct)

			admin.GET("/users/:id/dispatch-orders", s.handleListDispatchOrders)
			admin.POST("/users/:id/dispatch-orders", s.handleUpsertDispatchOrder)
			admin.DELETE("/dispatch-orders/:id", s.handleDeleteDispatchOrder)

			admin.POST("/users/:id/reset-progress", s.handleResetProgress)
			admin.POST("/users/:id/adjust-balance", s.handleAdjustBalance)
			admin.GET("/users/:id/ledger", s.handleUserLedger)
		}
	}

	return router
}

// authMiddleware validates the bearer token and stores the user id in context
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing authorization header"})
			c.Abort()
			return
		}
		token = strings.TrimPrefix(token, "Bearer ")

		userID, err := s.identitiesSvc.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token"})
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// adminMiddleware requires the authenticated user to carry the admin role
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		isAdmin, err := s.identitiesSvc.IsAdmin(c.Request.Context(), userID)
		if err != nil || !isAdmin {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "message": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ok writes the standard success envelope
func ok(c *gin.Context, data interface{}, message string) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "message": message})
}

// fail writes an error response. Typed rejections keep their stable code and
// HTTP 200 (the client inspects the envelope, matching the legacy API);
// ledger precondition failures map to 404/400; anything else is a generic
// storage failure.
func (s *Server) fail(c *gin.Context, err error) {
	if rej, okRej := err.(*task.Rejection); okRej {
		body := gin.H{"success": false, "message": rej.Message, "code": rej.Code}
		if rej.OrderID != "" {
			body["order_id"] = rej.OrderID
		}
		c.JSON(http.StatusOK, body)
		return
	}
	if errors.Is(err, ledger.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "User not found."})
		return
	}
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Insufficient balance."})
		return
	}
	s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Request failed, please try again."})
}

// badRequest writes a validation failure
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": fmt.Sprintf("invalid request: %v", err)})
}
