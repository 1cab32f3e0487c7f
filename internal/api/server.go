package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/connectivity-monitor/internal/config"
	"github.com/connectivity-monitor/internal/metrics"
	"github.com/connectivity-monitor/internal/types"
)

// Monitor is the read and trigger surface the API exposes
type Monitor interface {
	Status() types.ConnectivityState
	Stats() types.Stats
	RecentHistory(n int) []types.ProbeOutcome
	HistoryCapacity() int
	Endpoints() (primary, fallback []types.Endpoint)
	ManualCheck(ctx context.Context) (types.ProbeOutcome, error)
	Subscribe() (string, <-chan types.ConnectivityState, func())
}

type Server struct {
	config      *config.Config
	monitor     Monitor
	metrics     *metrics.Collector
	gatherer    prometheus.Gatherer
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

// limiterIdleTTL bounds how long a client's limiter is kept after its last
// request. A limiter idle this long has refilled, so dropping it loses nothing.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client key. Entries idle longer
// than limiterIdleTTL are pruned lazily, so the map is bounded by the number
// of clients seen within that window.
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	rate      rate.Limit
	burst     int
	now       func() time.Time
	lastPrune time.Time
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		rate:      rate.Limit(rps),
		burst:     burst,
		now:       time.Now,
		lastPrune: time.Now(),
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) >= limiterIdleTTL {
		rl.prune(now)
	}

	entry, exists := rl.limiters[key]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

// Len returns the number of tracked clients
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) prune(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) >= limiterIdleTTL {
			delete(rl.limiters, key)
		}
	}
	rl.lastPrune = now
	log.WithField("clients", len(rl.limiters)).Debug("Pruned idle rate limiters")
}

func NewServer(cfg *config.Config, mon Monitor, metricsCollector *metrics.Collector, gatherer prometheus.Gatherer) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		monitor:     mon,
		metrics:     metricsCollector,
		gatherer:    gatherer,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.ManualCheckPerMinute),
	}

	s.setupRoutes()

	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	s.router.GET("/health", s.handleHealth)

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/stats", s.handleStats)
	api.GET("/history", s.handleHistory)
	api.GET("/endpoints", s.handleEndpoints)
	api.GET("/ws", s.handleWebsocket)

	check := api.Group("/check")
	if s.config.API.EnableIPRateLimit {
		check.Use(s.rateLimitMiddleware())
	}
	check.POST("", s.handleCheck)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: manualCheckWait + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var err error
	if s.config.API.TLSEnabled() {
		log.Infof("Starting API server on %s (TLS)", s.config.API.Addr)
		err = s.httpServer.ListenAndServeTLS(s.config.API.TLSCertFile, s.config.API.TLSKeyFile)
	} else {
		log.Infof("Starting API server on %s", s.config.API.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Milliseconds(),
			"ip":       c.ClientIP(),
		}).Debug("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// route template keeps label cardinality bounded
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, route, status)
		s.metrics.RecordAPIDuration(method, route, time.Since(start).Seconds())
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		limiter := s.rateLimiter.GetLimiter(c.ClientIP())

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
