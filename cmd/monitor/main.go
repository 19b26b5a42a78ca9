package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/wtower/uptime-monitor/pkg/config"
	"github.com/wtower/uptime-monitor/pkg/engine"
	"github.com/wtower/uptime-monitor/pkg/store"
)

func main() {
	log := newLogger()
	log.Info().Msg("starting Watchtower monitor")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.Logs.Level != "" {
		if level, err := zerolog.ParseLevel(cfg.Logs.Level); err == nil {
			log = log.Level(level)
		}
	}
	if cfg.Logs.Pretty {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	s, err := store.New(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}
	defer s.Close()

	eng := engine.New(s, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := eng.Run(ctx); err != nil {
			log.Error().Err(err).Msg("engine stopped with error")
		}
	}()

	if cfg.Monitor.Port == 0 {
		cfg.Monitor.Port = 8085
	}
	if os.Getenv("ENVIRONMENT") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.GET("/health", func(c *gin.Context) {
		if err := s.HealthCheck(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"pool":      s.PoolStats(),
			"timestamp": time.Now().Unix(),
		})
	})
	r.GET("/api/v1/statuses", func(c *gin.Context) {
		c.JSON(http.StatusOK, eng.GetAllUptimeStatuses())
	})
	r.GET("/ws", func(c *gin.Context) {
		if err := eng.Bus().ServeWS(c.Writer, c.Request); err != nil {
			log.Debug().Err(err).Msg("websocket session ended")
		}
	})

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Monitor.Host, cfg.Monitor.Port),
		Handler:        r,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Int("port", cfg.Monitor.Port).Msg("health endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start health server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	cancel()
	log.Info().Msg("shutdown complete")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(config.Default().Logs.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if cfg := os.Getenv("LOG_LEVEL"); cfg != "" {
		if parsed, err := zerolog.ParseLevel(cfg); err == nil {
			level = parsed
		}
	}

	var writer = os.Stdout
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	if os.Getenv("LOG_PRETTY") == "true" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: writer})
	}
	return logger
}
