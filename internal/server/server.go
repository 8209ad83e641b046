package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"chirpd/internal/config"
	"chirpd/internal/content"
	"chirpd/internal/postlog"
	"chirpd/internal/scheduler"
	"chirpd/internal/social"
)

// Ops is the slice of the scheduler the server exposes to operators.
type Ops interface {
	Snapshot() scheduler.Status
	RunPostingCycle(ctx context.Context, category string) error
	RunEngagementCycle(ctx context.Context)
}

// Server is the ops HTTP server.
type Server struct {
	cfg    config.OpsConfig
	ops    Ops
	db     *gorm.DB
	loc    *time.Location
	log    zerolog.Logger
	engine *gin.Engine

	nowFn func() time.Time
}

// New builds the server and its route table.
//
// Middleware order: tracing first so every request is spanned, then the
// request ID so logs and error envelopes can correlate, then access
// logging, then recovery so panics are logged with request context.
func New(cfg config.OpsConfig, otelService string, ops Ops, db *gorm.DB, loc *time.Location, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		ops:   ops,
		db:    db,
		loc:   loc,
		log:   log.With().Str("component", "ops_server").Logger(),
		nowFn: time.Now,
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(otelService))
	r.Use(requestID())
	r.Use(accessLog(s.log))
	r.Use(recovery())
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(metrics())

	rl := newRateLimiter(cfg.RateRPS, cfg.RateBurst)
	r.Use(rl.handler())

	if len(cfg.CORS) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:   []string{requestIDHeader, "Content-Length"},
			MaxAge:          12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORS,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders: []string{requestIDHeader, "Content-Length"},
			MaxAge:        12 * time.Hour,
		}))
	}

	r.NoRoute(func(c *gin.Context) {
		fail(c, http.StatusNotFound, codeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		fail(c, http.StatusMethodNotAllowed, codeNotAllowed, "method not allowed")
	})

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/status", s.handleStatus)
	r.GET("/posts/recent", s.handleRecentPosts)
	r.POST("/cycles/post", s.handlePostCycle)
	r.POST("/cycles/engage", s.handleEngageCycle)

	s.engine = r
	return s
}

// Handler exposes the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then drains with a short grace period.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}

// statusResponse is the /status body: the scheduler snapshot plus the
// post-log's view of today.
type statusResponse struct {
	scheduler.Status
	PostsToday      int64            `json:"posts_today"`
	PostsByCategory map[string]int64 `json:"posts_by_category"`
}

func (s *Server) handleStatus(c *gin.Context) {
	resp := statusResponse{Status: s.ops.Snapshot()}

	n, err := postlog.CountToday(c.Request.Context(), s.db, s.loc, s.nowFn())
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "post log unavailable")
		return
	}
	resp.PostsToday = n

	byCat, err := postlog.CountByCategory(c.Request.Context(), s.db)
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "post log unavailable")
		return
	}
	resp.PostsByCategory = byCat

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRecentPosts(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 200 {
			fail(c, http.StatusBadRequest, codeBadRequest, "limit must be an integer in [1,200]")
			return
		}
		limit = n
	}

	recs, err := postlog.Recent(c.Request.Context(), s.db, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "post log unavailable")
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": recs})
}

// postCycleRequest selects the category for a manual post. Empty means a
// random category from the schedule.
type postCycleRequest struct {
	Category string `json:"category"`
}

func (s *Server) handlePostCycle(c *gin.Context) {
	var req postCycleRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, codeBadRequest, "malformed JSON body")
			return
		}
	}

	if err := s.ops.RunPostingCycle(c.Request.Context(), req.Category); err != nil {
		switch {
		case errors.Is(err, content.ErrDailyQuota), errors.Is(err, social.ErrQuotaExhausted):
			fail(c, http.StatusServiceUnavailable, codeUnavailable, "provider quota exhausted")
		default:
			fail(c, http.StatusInternalServerError, codeInternal, "posting cycle failed")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "posted", "category": req.Category})
}

// handleEngageCycle kicks off a full engagement cycle in the background.
// A cycle can run for minutes against external APIs, far past any sane
// request timeout, so the handler acknowledges and detaches.
func (s *Server) handleEngageCycle(c *gin.Context) {
	loggerFrom(c).Info().Msg("manual engagement cycle requested")
	go s.ops.RunEngagementCycle(context.Background())
	c.JSON(http.StatusAccepted, gin.H{"status": "started"})
}
