package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeguard/internal/events"
	"tradeguard/internal/monitor"
	"tradeguard/internal/netguard"
	"tradeguard/internal/order"
	"tradeguard/internal/risk"
	"tradeguard/pkg/db"
)

// Server wires the HTTP surface around the execution core.
type Server struct {
	Router    *gin.Engine
	Bus       *events.Bus
	DB        *db.Database
	RiskMgr   *risk.Manager
	Orders    *order.Service
	Guard     *netguard.Guard
	Metrics   *monitor.SystemMetrics
	Registry  *prometheus.Registry
	JWTSecret string
	Meta      SystemMeta
}

// SystemMeta describes runtime status exposed to operators.
type SystemMeta struct {
	DryRun    bool
	Exchanges []string
	Version   string
}

func NewServer(bus *events.Bus, database *db.Database, riskMgr *risk.Manager, orders *order.Service, guard *netguard.Guard, metrics *monitor.SystemMetrics, registry *prometheus.Registry, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Bus:       bus,
		DB:        database,
		RiskMgr:   riskMgr,
		Orders:    orders,
		Guard:     guard,
		Metrics:   metrics,
		Registry:  registry,
		JWTSecret: jwtSecret,
		Meta:      meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)
	if s.Registry != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/risk", s.getRiskSnapshot)
			protected.GET("/risk/limits", s.getRiskLimits)
			protected.PUT("/risk/limits", s.updateRiskLimits)

			protected.POST("/orders", s.submitOrder)
			protected.GET("/orders", s.getOrders)
			protected.GET("/orders/:id", s.getOrder)
			protected.GET("/orders/:id/audit", s.getOrderAudit)

			protected.GET("/breakers", s.getBreakers)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
