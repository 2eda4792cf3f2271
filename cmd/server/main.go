package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailroom/internal/api"
	"github.com/ignite/mailroom/internal/config"
	"github.com/ignite/mailroom/internal/delivery"
	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/eventlog"
	"github.com/ignite/mailroom/internal/pkg/distlock"
	"github.com/ignite/mailroom/internal/pkg/logger"
	"github.com/ignite/mailroom/internal/queue"
	"github.com/ignite/mailroom/internal/stats"
	"github.com/ignite/mailroom/internal/suppression"
	"github.com/ignite/mailroom/internal/template"
	"github.com/ignite/mailroom/internal/worker"
)

// checkPortAvailable verifies that the target port is not already in use,
// so a stale process on the port fails fast instead of at first request.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func buildTransport(cfg *config.Config) (delivery.Transport, error) {
	switch cfg.Transport.Provider {
	case "sparkpost":
		if cfg.Transport.SparkPost.APIKey == "" {
			return nil, fmt.Errorf("sparkpost transport selected but SPARKPOST_API_KEY is not set")
		}
		return delivery.NewSparkPostTransport(cfg.Transport.SparkPost.APIKey), nil
	case "ses":
		return delivery.NewSESTransport(
			cfg.Transport.SES.AccessKey,
			cfg.Transport.SES.SecretKey,
			cfg.Transport.SES.Region,
		)
	default:
		return nil, fmt.Errorf("unknown transport provider %q", cfg.Transport.Provider)
	}
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	transport, err := buildTransport(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize transport: %v", err)
	}
	log.Printf("Delivery transport: %s", transport.Name())

	policy := queue.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.Queue.MaxAttempts
	policy.InitialDelay = cfg.Queue.InitialDelay()
	policy.MaxDelay = cfg.Queue.MaxDelay()
	policy.Multiplier = cfg.Queue.Multiplier
	if len(cfg.Queue.RetryableErrors) > 0 {
		policy.RetryableErrors = cfg.Queue.RetryableErrors
	}

	store := queue.NewStore(policy, cfg.Queue.MaxSize)
	registry := suppression.NewRegistry()
	eventLog := eventlog.New(cfg.Logging.MaxEntries, registry)
	templates := template.NewStore(template.NewRenderer())
	agg := stats.NewAggregator(store, eventLog, registry)

	orch := delivery.NewOrchestrator(transport, store, registry, eventLog, templates, delivery.Options{
		DefaultFrom: domain.Address{
			Email: cfg.Mailer.DefaultFromEmail,
			Name:  cfg.Mailer.DefaultFromName,
		},
		QueueByDefault: cfg.Mailer.QueueByDefault,
	})

	var limiter *worker.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter, err = worker.NewRateLimiterFromURL(cfg.RateLimit.RedisURL, nil)
		if err != nil {
			log.Fatalf("Failed to connect rate limiter to Redis: %v", err)
		}
		defer limiter.Close()
		log.Println("Redis-backed send rate limiting enabled")
	}

	poolCfg := worker.PoolConfig{
		Workers:        cfg.Workers.Count,
		BatchSize:      cfg.Workers.BatchSize,
		PollInterval:   cfg.Workers.PollInterval(),
		SweepInterval:  cfg.Workers.SweepInterval(),
		QueueRetention: cfg.Workers.QueueRetention(),
		LogRetention:   cfg.Workers.LogRetention(),
	}
	if limiter != nil {
		poolCfg.SweepLock = distlock.NewRedisLock(limiter.Client(), "janitor-sweep", time.Minute)
	}
	pool := worker.NewPool(orch, store, eventLog, limiter, poolCfg)
	pool.Start()
	log.Printf("Worker pool started: %d workers, batch size %d", cfg.Workers.Count, cfg.Workers.BatchSize)

	handlers := api.NewHandlers(orch, store, registry, eventLog, templates, agg, pool)
	router := api.SetupRoutes(handlers)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	pool.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Server stopped")
}
