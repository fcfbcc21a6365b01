// Package rest provides the Gin-based status and control API.
package rest

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/collector"
	"github.com/iggydv12/lightswarm/internal/status"
	"github.com/iggydv12/lightswarm/internal/telemetry"
)

const defaultHistoryLimit = 50

// StatusSource supplies the node's latest published status.
type StatusSource interface {
	Current() (status.Status, bool)
}

// CollectorAPI is the collector surface exposed over REST.
type CollectorAPI interface {
	Latest() []collector.Report
	Masters() []collector.MasterStats
	History(limit int) ([]collector.Report, error)
	ResetSwarm() error
	Reset(target uint8) error
	DefineLogger(addr netip.Addr) error
	Blink(target uint8, d time.Duration) error
	ChangeTest() error
}

// Server is the REST API server.
type Server struct {
	engine    *gin.Engine
	node      StatusSource
	collector CollectorAPI
	logger    *zap.Logger
}

// New creates a REST Server exposing /healthz and /metrics.
func New(logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, logger: logger}
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("REST API listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// RegisterNode sets up the /swarm routes.
func (s *Server) RegisterNode(src StatusSource) {
	s.node = src
	g := s.engine.Group("/swarm")
	{
		g.GET("/status", s.nodeStatus)
		g.GET("/peers", s.nodePeers)
	}
}

// RegisterCollector sets up the /collector routes.
func (s *Server) RegisterCollector(api CollectorAPI) {
	s.collector = api
	g := s.engine.Group("/collector")
	{
		g.GET("/latest", s.latest)
		g.GET("/masters", s.masters)
		g.GET("/history", s.history)
		g.POST("/reset-swarm", s.resetSwarm)
		g.POST("/reset/:address", s.reset)
		g.POST("/define-logger", s.defineLogger)
		g.POST("/blink/:address", s.blink)
		g.POST("/change-test", s.changeTest)
	}
}

// --- Node handlers ---

func (s *Server) nodeStatus(c *gin.Context) {
	st, ok := s.node.Current()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) nodePeers(c *gin.Context) {
	st, ok := s.node.Current()
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no cycle completed yet"})
		return
	}
	c.JSON(http.StatusOK, st.Peers)
}

// --- Collector handlers ---

func (s *Server) latest(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Latest())
}

func (s *Server) masters(c *gin.Context) {
	c.JSON(http.StatusOK, s.collector.Masters())
}

func (s *Server) history(c *gin.Context) {
	limit := defaultHistoryLimit
	if q := c.Query("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	reports, err := s.collector.History(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if reports == nil {
		reports = []collector.Report{}
	}
	c.JSON(http.StatusOK, reports)
}

func (s *Server) resetSwarm(c *gin.Context) {
	s.respond(c, s.collector.ResetSwarm())
}

func (s *Server) reset(c *gin.Context) {
	target, ok := addressParam(c)
	if !ok {
		return
	}
	s.respond(c, s.collector.Reset(target))
}

type defineLoggerRequest struct {
	Address string `json:"address"`
}

func (s *Server) defineLogger(c *gin.Context) {
	var req defineLoggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	var addr netip.Addr
	if req.Address != "" {
		a, err := netip.ParseAddr(req.Address)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		addr = a
	}
	s.respond(c, s.collector.DefineLogger(addr))
}

func (s *Server) blink(c *gin.Context) {
	target, ok := addressParam(c)
	if !ok {
		return
	}
	seconds := 1.0
	if q := c.Query("seconds"); q != "" {
		v, err := strconv.ParseFloat(q, 64)
		if err != nil || v <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "seconds must be a positive number"})
			return
		}
		seconds = v
	}
	s.respond(c, s.collector.Blink(target, time.Duration(seconds*float64(time.Second))))
}

func (s *Server) changeTest(c *gin.Context) {
	s.respond(c, s.collector.ChangeTest())
}

func (s *Server) respond(c *gin.Context, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"result": true})
	case errors.Is(err, collector.ErrInvalidAddress):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Warn("Control request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

func addressParam(c *gin.Context) (uint8, bool) {
	v, err := strconv.ParseUint(c.Param("address"), 10, 8)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "address must be 1-255"})
		return 0, false
	}
	return uint8(v), true
}
