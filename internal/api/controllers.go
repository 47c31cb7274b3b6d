package api

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"tradeguard/internal/order"
	"tradeguard/internal/risk"
)

var startedAt = time.Now()

// getSystemStatus reports runtime status for the operator UI.
func (s *Server) getSystemStatus(c *gin.Context) {
	status := gin.H{
		"status":         "running",
		"version":        s.Meta.Version,
		"dry_run":        s.Meta.DryRun,
		"exchanges":      s.Meta.Exchanges,
		"uptime_seconds": int(time.Since(startedAt).Seconds()),
	}
	if s.Guard != nil {
		status["breakers"] = s.Guard.BreakerStates()
	}
	c.JSON(http.StatusOK, status)
}

// getMetrics returns the in-process metrics snapshot.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "metrics not configured"})
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getRiskSnapshot returns the live risk metrics.
func (s *Server) getRiskSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.Snapshot())
}

// getRiskLimits returns the active limits.
func (s *Server) getRiskLimits(c *gin.Context) {
	c.JSON(http.StatusOK, s.RiskMgr.Limits())
}

// updateRiskLimits atomically replaces the active limits.
func (s *Server) updateRiskLimits(c *gin.Context) {
	var limits risk.Limits
	if err := c.BindJSON(&limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}

	if err := s.RiskMgr.ReloadLimits(c.Request.Context(), limits); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_LIMITS",
			"error": err.Error(),
		})
		return
	}
	log.Printf("Risk limits updated by operator %s", CurrentOperator(c))
	c.JSON(http.StatusOK, s.RiskMgr.Limits())
}

type submitOrderRequest struct {
	StrategyID    string  `json:"strategy_id"`
	BotID         string  `json:"bot_id"`
	Exchange      string  `json:"exchange"`
	Symbol        string  `json:"symbol"`
	Side          string  `json:"side"`
	OrderType     string  `json:"order_type"`
	Quantity      float64 `json:"quantity"`
	LimitPrice    float64 `json:"limit_price"`
	StopPrice     float64 `json:"stop_price"`
	Seq           uint64  `json:"seq"`
	ClientOrderID string  `json:"client_order_id"`
}

// submitOrder runs one intent through the execution service. The terminal
// result is always returned with 200; its status field says what happened.
func (s *Server) submitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_PAYLOAD",
			"error": "invalid request payload",
		})
		return
	}
	if req.Exchange == "" || req.Symbol == "" || req.Quantity <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "MISSING_FIELDS",
			"error": "exchange, symbol, and a positive quantity are required",
		})
		return
	}
	side := strings.ToUpper(req.Side)
	if side != "BUY" && side != "SELL" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":  "INVALID_SIDE",
			"error": "side must be BUY or SELL",
		})
		return
	}

	result, err := s.Orders.Submit(c.Request.Context(), order.Intent{
		StrategyID:    req.StrategyID,
		BotID:         req.BotID,
		Exchange:      req.Exchange,
		Symbol:        req.Symbol,
		Side:          side,
		OrderType:     strings.ToUpper(req.OrderType),
		Quantity:      req.Quantity,
		LimitPrice:    req.LimitPrice,
		StopPrice:     req.StopPrice,
		Seq:           req.Seq,
		ClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "SUBMIT_FAILED",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// getOrders returns recent terminal order records.
func (s *Server) getOrders(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := s.DB.Queries().RecentOrders(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": records})
}

// getOrder returns one order record by client order ID.
func (s *Server) getOrder(c *gin.Context) {
	rec, err := s.DB.Queries().OrderByClientID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":  "NOT_FOUND",
			"error": "order not found",
		})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// getOrderAudit returns the audit trail for one client order ID.
func (s *Server) getOrderAudit(c *gin.Context) {
	trail, err := s.DB.Queries().AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":  "INTERNAL_ERROR",
			"error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": trail})
}

// getBreakers returns every circuit breaker's state.
func (s *Server) getBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"breakers": s.Guard.BreakerStates()})
}
