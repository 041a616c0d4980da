package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/taskora/taskora/internal/ledger"
	"github.com/taskora/taskora/pkg/models"
)

// handleListTiers lists the VIP level definitions
func (s *Server) handleListTiers(c *gin.Context) {
	tiers, err := s.tierSvc.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, tiers, "")
}

// handleUpsertTier creates or updates a VIP level
func (s *Server) handleUpsertTier(c *gin.Context) {
	var req models.TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	row, err := s.tierSvc.Upsert(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, row, "Tier saved")
}

// handleDeleteTier deletes a VIP level by id
func (s *Server) handleDeleteTier(c *gin.Context) {
	if err := s.tierSvc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil, "Tier deleted")
}

// handleListProducts lists the catalog
func (s *Server) handleListProducts(c *gin.Context) {
	products, err := s.taskSvc.ListProducts(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, products, "")
}

// handleCreateProduct adds a catalog item
func (s *Server) handleCreateProduct(c *gin.Context) {
	var req models.ProductRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	product, err := s.taskSvc.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, product, "Product created")
}

// handleListDispatchOrders lists a user's dispatch overrides
func (s *Server) handleListDispatchOrders(c *gin.Context) {
	overrides, err := s.taskSvc.ListDispatchOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, overrides, "")
}

// handleUpsertDispatchOrder creates or updates a dispatch override for a user
func (s *Server) handleUpsertDispatchOrder(c *gin.Context) {
	var req models.DispatchOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	override, err := s.taskSvc.UpsertDispatchOrder(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, override, fmt.Sprintf("Dispatch order set for position %d (%v-%v USDT)", req.TaskIndex, req.MinAmount, req.MaxAmount))
}

// handleDeleteDispatchOrder deletes a dispatch override
func (s *Server) handleDeleteDispatchOrder(c *gin.Context) {
	if err := s.taskSvc.DeleteDispatchOrder(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil, "Dispatch order deleted")
}

// handleResetProgress cancels pending orders and resets the daily counter
func (s *Server) handleResetProgress(c *gin.Context) {
	cancelled, err := s.taskSvc.ResetProgress(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"cancelled_orders": cancelled}, "Task progress reset")
}

// handleAdjustBalance credits or debits a user's balance through the audited
// adjustment path
func (s *Server) handleAdjustBalance(c *gin.Context) {
	var req models.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	actorID := c.GetString("userID")
	userID := c.Param("id")
	var err error
	if req.Amount >= 0 {
		err = s.ledgerSvc.Credit(c.Request.Context(), userID, req.Amount, ledger.EntryAdjustment, "", req.Reason, actorID)
	} else {
		err = s.ledgerSvc.Debit(c.Request.Context(), userID, -req.Amount, ledger.EntryAdjustment, "", req.Reason, actorID)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil, "Balance adjusted")
}

// handleUserLedger returns a user's ledger entries
func (s *Server) handleUserLedger(c *gin.Context) {
	entries, total, err := s.ledgerSvc.Entries(c.Request.Context(), c.Param("id"), 100, 0)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"entries": entries, "total": total}, "")
}
