package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/duynhne/portfolio-client/config"
	"github.com/duynhne/portfolio-client/internal/core"
	"github.com/duynhne/portfolio-client/internal/core/session"
	"github.com/duynhne/portfolio-client/internal/logger"
	logicv1 "github.com/duynhne/portfolio-client/internal/logic/v1"
	"github.com/duynhne/portfolio-client/middleware"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic("Configuration validation failed: " + err.Error())
	}

	// Initialize Zerolog with LOG_LEVEL from config
	logger.Setup(cfg.Logging.Level)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("env", cfg.Service.Env).
		Str("backend", cfg.API.BaseURL).
		Msg("Session agent starting")

	// Initialize OpenTelemetry tracing
	var tp *sdktrace.TracerProvider
	var err error
	if cfg.Tracing.Enabled {
		tp, err = middleware.InitTracing(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize tracing")
		} else {
			log.Info().
				Str("endpoint", cfg.Tracing.Endpoint).
				Float64("sample_rate", cfg.Tracing.SampleRate).
				Msg("Tracing initialized")
		}
	} else {
		log.Info().Msg("Tracing disabled (TRACING_ENABLED=false)")
	}

	// Initialize Pyroscope profiling
	if cfg.Profiling.Enabled {
		if err := middleware.InitProfiling(cfg); err != nil {
			log.Warn().Err(err).Msg("Failed to initialize profiling")
		} else {
			log.Info().
				Str("endpoint", cfg.Profiling.Endpoint).
				Msg("Profiling initialized")
			defer middleware.StopProfiling()
		}
	} else {
		log.Info().Msg("Profiling disabled (PROFILING_ENABLED=false)")
	}

	// Build the request pipeline and the auth wiring
	httpClient, authTransport, err := core.NewHTTPClient(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build HTTP client")
	}

	store := session.NewStore()
	auth := logicv1.NewAuthService(cfg.API.BaseURL, httpClient, store,
		cfg.GetAccessTokenLifetimeDuration(), cfg.GetRefreshBufferDuration())
	authTransport.SetRefresher(auth)
	defer auth.Close()

	// Derive the session from server-held cookies, or log in when the
	// agent is configured with credentials.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), cfg.GetHTTPTimeoutDuration())
	if user, err := auth.WhoAmI(startupCtx); err != nil {
		log.Warn().Err(err).Msg("Session probe failed")
	} else if user != nil {
		log.Info().Str("username", user.Username).Msg("Existing session restored")
	} else if username := os.Getenv("AGENT_USERNAME"); username != "" {
		if user, err := auth.Login(startupCtx, username, os.Getenv("AGENT_PASSWORD")); err != nil {
			log.Warn().Err(err).Str("username", username).Msg("Agent login failed")
		} else {
			log.Info().Str("username", user.Username).Msg("Agent logged in")
		}
	} else {
		log.Info().Msg("No session; agent running unauthenticated")
	}
	cancelStartup()

	r := gin.Default()

	var isShuttingDown atomic.Bool

	// Tracing middleware for the local status server
	r.Use(otelgin.Middleware(cfg.Service.Name))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Readiness check
	// Returns 503 once shutdown has started, to drain traffic before HTTP shutdown.
	r.GET("/ready", func(c *gin.Context) {
		if isShuttingDown.Load() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "shutting_down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Session snapshot for operators
	r.GET("/session", func(c *gin.Context) {
		current := store.Current()
		if !current.Authenticated() {
			c.JSON(http.StatusOK, gin.H{"authenticated": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "user": current.User})
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Service.Port,
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.Service.Port).Msg("Starting status server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start status server")
		}
	}()

	// Log session changes for the lifetime of the agent
	sessions, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for s := range sessions {
			if s.Authenticated() {
				log.Info().Str("username", s.User.Username).Msg("Session established")
			} else {
				log.Info().Msg("Session ended")
			}
		}
	}()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")

	// Fail readiness first and wait for propagation.
	isShuttingDown.Store(true)
	drainDelay := cfg.GetReadinessDrainDelayDuration()
	if drainDelay > 0 {
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay started")
		time.Sleep(drainDelay)
		log.Info().Dur("delay", drainDelay).Msg("Readiness drain delay completed")
	}

	// Shutdown context with configurable timeout
	shutdownTimeout := cfg.GetShutdownTimeoutDuration()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	log.Info().Dur("timeout", shutdownTimeout).Msg("Shutting down...")

	// 1. Shutdown status server
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Status server shutdown error")
	} else {
		log.Info().Msg("Status server shutdown complete")
	}

	// 2. Stop the refresh scheduler so no timer fires past teardown
	auth.Close()
	log.Info().Msg("Refresh scheduler stopped")

	// 3. Shutdown tracer
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Tracer shutdown error")
		} else {
			log.Info().Msg("Tracer shutdown complete")
		}
	}

	log.Info().Msg("Graceful shutdown complete")
}
