package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"btcQuant/internal/domain"
	"btcQuant/internal/ports"
	"btcQuant/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultAttemptLimit = 50
	maxAttemptLimit     = 500
	shutdownTimeout     = 5 * time.Second
)

// SnapshotReader is the read side of the refresher.
type SnapshotReader interface {
	Current() (*domain.Snapshot, domain.Status)
}

// AttemptLister returns the newest refresh attempts first.
type AttemptLister interface {
	RecentAttempts(ctx context.Context, limit int) ([]domain.Attempt, error)
}

// Config wires the server. Attempts, Gatherer and RSIZone are optional.
type Config struct {
	Reader   SnapshotReader
	Attempts AttemptLister
	Gatherer prometheus.Gatherer
	RSIZone  func(domain.IndicatorRow) string
	Location *time.Location
	Logger   ports.Logger
}

// Server exposes the latest snapshot over HTTP.
type Server struct {
	cfg    Config
	engine *gin.Engine
}

// AttemptView is the JSON form of one attempt log row.
type AttemptView struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"`
	Candles    int       `json:"candles"`
	Error      string    `json:"error,omitempty"`
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Reader == nil {
		return nil, fmt.Errorf("snapshot reader is required for HTTP server")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for HTTP server")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &Server{cfg: cfg}
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	r.HEAD("/healthz", s.health)

	api := r.Group("/api")
	{
		api.GET("/snapshot", s.snapshot)
		api.GET("/candles.csv", s.candlesCSV)
		api.GET("/attempts", s.attempts)
	}

	if cfg.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	s.engine = r
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.cfg.Logger.Info(ctx, "HTTP server listening", ports.Fields{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.cfg.Logger.Info(ctx, "HTTP server stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.cfg.Logger.Debug(c.Request.Context(), "HTTP request", ports.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

// health always answers 200 so a host does not restart a process that is
// still serving stale data.
func (s *Server) health(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if c.Request.Method == http.MethodHead {
		c.Status(http.StatusOK)
		return
	}
	snap, st := s.cfg.Reader.Current()
	status := "ok"
	if st.Degraded {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   status,
		"phase":    string(st.Phase),
		"stale":    st.Stale,
		"has_data": snap != nil,
	})
}

// current returns the snapshot or writes a 503 when there is none yet.
func (s *Server) current(c *gin.Context) (*domain.Snapshot, domain.Status, bool) {
	snap, st := s.cfg.Reader.Current()
	if snap == nil {
		msg := st.LastError
		if msg == "" {
			msg = "no data yet"
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  msg,
			"status": utils.NewStatusView(st, s.cfg.Location),
		})
		return nil, st, false
	}
	return snap, st, true
}

func (s *Server) snapshot(c *gin.Context) {
	snap, st, ok := s.current(c)
	if !ok {
		return
	}
	tail, _ := strconv.Atoi(c.Query("tail")) // invalid or missing means all candles

	zone := ""
	if s.cfg.RSIZone != nil && len(snap.Indicators) > 0 {
		zone = s.cfg.RSIZone(snap.Indicators[len(snap.Indicators)-1])
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, utils.NewSnapshotView(snap, st, zone, tail, s.cfg.Location))
}

func (s *Server) candlesCSV(c *gin.Context) {
	snap, _, ok := s.current(c)
	if !ok {
		return
	}
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, utils.SignalsCSVName(snap.Dataset.Timeframe)))
	c.Status(http.StatusOK)
	if err := utils.WriteSnapshotCSV(c.Writer, snap, s.cfg.Location); err != nil {
		s.cfg.Logger.Error(c.Request.Context(), err, "Failed to write CSV export")
	}
}

func (s *Server) attempts(c *gin.Context) {
	if s.cfg.Attempts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attempt log is not enabled"})
		return
	}
	limit := defaultAttemptLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxAttemptLimit)
	}

	rows, err := s.cfg.Attempts.RecentAttempts(c.Request.Context(), limit)
	if err != nil {
		s.cfg.Logger.Error(c.Request.Context(), err, "Failed to list refresh attempts")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list attempts"})
		return
	}
	views := make([]AttemptView, 0, len(rows))
	for _, a := range rows {
		views = append(views, AttemptView{
			ID:         a.ID,
			Symbol:     a.Symbol,
			Timeframe:  a.Timeframe,
			StartedAt:  a.StartedAt.In(s.cfg.Location),
			DurationMS: a.Duration.Milliseconds(),
			Outcome:    string(a.Outcome),
			Candles:    a.Candles,
			Error:      a.Error,
		})
	}
	c.JSON(http.StatusOK, views)
}
