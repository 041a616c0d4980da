package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskora/taskora/pkg/models"
)

// handleRegister handles user registration
func (s *Server) handleRegister(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := s.identitiesSvc.Register(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	ok(c, user, "Registered")
}

// handleLogin handles user login
func (s *Server) handleLogin(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.identitiesSvc.Login(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid credentials"})
		return
	}
	ok(c, resp, "Logged in")
}

// handleMatch matches a provisional order for the caller
func (s *Server) handleMatch(c *gin.Context) {
	result, err := s.taskSvc.Match(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, result, "Order matched")
}

// handleConfirm settles a matched order by its single-use token
func (s *Server) handleConfirm(c *gin.Context) {
	var req models.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.taskSvc.Confirm(c.Request.Context(), c.GetString("userID"), req.MatchToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, result, "Task completed. Principal + commission returned.")
}

// handleSubmit settles a pending order directly by id
func (s *Server) handleSubmit(c *gin.Context) {
	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	result, err := s.taskSvc.Submit(c.Request.Context(), c.GetString("userID"), req.OrderID)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, result, "Order completed")
}

// handleMyOrders returns the caller's recent orders
func (s *Server) handleMyOrders(c *gin.Context) {
	orders, err := s.taskSvc.MyOrders(c.Request.Context(), c.GetString("userID"), 50)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, orders, "")
}

// handleGetMe returns the caller's account
func (s *Server) handleGetMe(c *gin.Context) {
	user, err := s.ledgerSvc.GetUser(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, user, "")
}

// handleMyLedger returns the caller's ledger entries
func (s *Server) handleMyLedger(c *gin.Context) {
	entries, total, err := s.ledgerSvc.Entries(c.Request.Context(), c.GetString("userID"), 50, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"entries": entries, "total": total}, "")
}
