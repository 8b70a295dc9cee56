package cmd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/antenna/htsp"
)

var httpPort string

func init() {
	MonitorCmd.Flags().StringVar(&httpPort, "http-port", "9983", "the port to serve the status endpoint on")
}

var MonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch the server and serve a live status endpoint",
	Long: `Stay connected to the media server, logging every change it pushes,
and expose what we have mirrored over HTTP.

	GET /health   liveness check
	GET /status   entity counts and last activity

Usage
	antenna monitor --host tv.local

`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := makeCommandLogger()
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck

		conf, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		session := makeSession(conf, log)
		defer session.Close()

		hello, err := connect(ctx, session, conf)
		if err != nil {
			return err
		}

		if err := session.EnsureSynchronized(ctx); err != nil {
			return err
		}

		stats := newMonitorStats(hello, session.Mirror())

		router := setupRouter(conf.DebugHTTP, log)

		router.GET("/health", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})
		router.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, stats.snapshot())
		})

		s := &http.Server{
			Addr:    net.JoinHostPort("0.0.0.0", httpPort),
			Handler: router,
		}

		// Initializing the server in a goroutine so that it won't block
		// the session loop below
		go func() {
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		log.Info("Monitoring",
			zap.String("server", hello.ServerName),
			zap.Uint32("htspVersion", hello.Version),
			zap.String("httpPort", httpPort))

		// The status handlers run on gin's goroutines while the session
		// loop owns the mirror, so everything they read goes through the
		// stats snapshot.
		err = session.Monitor(ctx, func(method string, entity htsp.Entity) {
			stats.record(method)
			log.Debug("Server push", zap.String("method", method))
		})

		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		// The context gives the http server 5 seconds to finish the
		// requests it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if shutdownErr := s.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error("Http server forced to shutdown", zap.Error(shutdownErr))
		}

		log.Info("Exiting")
		return err
	},
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/health"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

// monitorStats is the only mirror-derived state the HTTP handlers may
// touch. It is rebuilt from the session goroutine on every push.
type monitorStats struct {
	mu sync.RWMutex

	serverName  string
	httpStarted time.Time

	counts     map[htsp.Kind]int
	pushes     uint64
	lastMethod string
	lastPush   time.Time

	mirror *htsp.Mirror
}

func newMonitorStats(hello *htsp.Hello, mirror *htsp.Mirror) *monitorStats {
	return &monitorStats{
		serverName:  hello.ServerName,
		httpStarted: time.Now(),
		counts:      mirror.Counts(),
		mirror:      mirror,
	}
}

func (m *monitorStats) record(method string) {
	counts := m.mirror.Counts()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts = counts
	m.pushes++
	m.lastMethod = method
	m.lastPush = time.Now()
}

func (m *monitorStats) snapshot() gin.H {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := gin.H{}
	for kind, count := range m.counts {
		entities[string(kind)] = count
	}

	out := gin.H{
		"server":   m.serverName,
		"uptime":   time.Since(m.httpStarted).Round(time.Second).String(),
		"entities": entities,
		"pushes":   m.pushes,
	}
	if !m.lastPush.IsZero() {
		out["lastPush"] = m.lastPush.UTC().Format(time.RFC3339)
		out["lastMethod"] = m.lastMethod
	}
	return out
}
