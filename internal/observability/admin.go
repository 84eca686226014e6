package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/spectre/internal/dispatch"
	"github.com/danmuck/spectre/internal/objects"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// AdminSource is the participant state the admin surface exposes.
type AdminSource interface {
	Rank() int
	Snapshot() []objects.Entry
}

// AdminInfo carries static facts reported by /health.
type AdminInfo struct {
	Node        string
	Role        string
	GroupID     func() string
	CORSOrigins []string
}

// NewAdminRouter builds the read-only admin surface: health, the local
// object table, the operation log and Prometheus metrics.
func NewAdminRouter(info AdminInfo, src AdminSource, opLog *dispatch.Log) *gin.Engine {
	RegisterMetrics()
	started := time.Now()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ObserveRequests(info.Node, log.Logger.With().Str("component", "admin").Str("node", info.Node).Logger()))
	if len(info.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: info.CORSOrigins,
			AllowMethods: []string{"GET"},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status": "ok",
			"node":   info.Node,
			"role":   info.Role,
			"rank":   src.Rank(),
			"uptime": time.Since(started).String(),
		}
		if info.GroupID != nil {
			body["group_id"] = info.GroupID()
		}
		c.JSON(http.StatusOK, body)
	})

	r.GET("/objects", func(c *gin.Context) {
		snap := src.Snapshot()
		c.JSON(http.StatusOK, gin.H{"rank": src.Rank(), "objects": snap})
	})

	r.GET("/log", func(c *gin.Context) {
		if opLog == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "operation log disabled"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"total": opLog.Total(), "entries": opLog.Entries()})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// ServeAdmin runs h on addr until ctx is done.
func ServeAdmin(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("admin listening")
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	}
}
