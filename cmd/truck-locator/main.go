package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/Aji945/shopee-taken/internal/annotate"
	"github.com/Aji945/shopee-taken/internal/browser"
	"github.com/Aji945/shopee-taken/internal/database"
	"github.com/Aji945/shopee-taken/internal/manifest"
	"github.com/Aji945/shopee-taken/internal/models"
	"github.com/Aji945/shopee-taken/internal/sheetstore"
	"github.com/Aji945/shopee-taken/internal/truck-locator/api"
	"github.com/Aji945/shopee-taken/internal/truck-locator/config"
	"github.com/Aji945/shopee-taken/internal/truck-locator/events"
	"github.com/Aji945/shopee-taken/internal/truck-locator/scan"
)

func main() {
	// Setup logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database connection
	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Name,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis client for the outbox relay
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}

	// Relay orphaned scan events from the outbox to the stream
	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	// Services
	store := sheetstore.NewClient(sheetstore.Config{
		BaseURL:           cfg.Store.BaseURL,
		Timeout:           time.Duration(cfg.Store.TimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Store.RequestsPerMinute,
	}, logger)
	extractor := manifest.NewExtractor(logger)
	scanRepo := database.NewScanRepository(db)

	// Optional watcher over a live manifest page
	if cfg.Scanner.ManifestURL != "" {
		if err := startPageWatcher(ctx, cfg, store, extractor, scanRepo, logger); err != nil {
			logger.Error("failed to start page watcher", "error", err)
			os.Exit(1)
		}
	}

	// API handlers
	handlers := api.NewHandlers(store, scanRepo, extractor, cfg.Scanner.Placeholder, cfg.Store.SheetID, logger)

	// Setup Chi router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		pendingCount, _ := relay.GetPendingCount(context.Background())
		deadLetterCount, _ := relay.GetDeadLetterCount(context.Background())

		health := map[string]interface{}{
			"status": "ok",
			"outbox": map[string]interface{}{
				"pending":     pendingCount,
				"dead_letter": deadLetterCount,
			},
		}

		status := http.StatusOK
		if pendingCount > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetterCount > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}

		w.WriteHeader(status)
		json.NewEncoder(w).Encode(health)
	})

	// API Routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/scan", handlers.ScanManifest)
		r.Get("/scans", handlers.ListScans)
		r.Get("/scans/{scanID}", handlers.GetScan)
		r.Get("/stats", handlers.GetStats)

		r.Route("/store", func(r chi.Router) {
			r.Post("/update", handlers.UpdateLocation)
			r.Post("/clear", handlers.ClearLocation)
			r.Post("/batch-update", handlers.BatchUpdate)
		})
	})

	// Start server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Server.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// startPageWatcher opens the configured manifest page in a headless browser,
// runs an initial scan once the page renders rows, and re-scans on page
// mutations using the cached location table.
func startPageWatcher(ctx context.Context, cfg *config.Config, store *sheetstore.Client, extractor *manifest.Extractor, scanRepo *database.ScanRepository, logger *slog.Logger) error {
	b, err := browser.New(&browser.Options{
		Headless: cfg.Scanner.Headless,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize browser: %w", err)
	}

	page, err := b.NewPage()
	if err != nil {
		b.Close()
		return fmt.Errorf("failed to open page: %w", err)
	}

	if err := b.NavigateWithRetry(page, cfg.Scanner.ManifestURL, 3); err != nil {
		b.Close()
		return fmt.Errorf("failed to open manifest page: %w", err)
	}

	source := browser.NewPageSource(page, logger)
	annotator := annotate.New(cfg.Scanner.Placeholder, logger)
	session := scan.NewSession(scan.Config{
		SheetID:          cfg.Store.SheetID,
		PollInterval:     time.Duration(cfg.Scanner.PollIntervalSeconds) * time.Second,
		MaxPollAttempts:  cfg.Scanner.MaxPollAttempts,
		MutationDebounce: time.Duration(cfg.Scanner.MutationDebounceMS) * time.Millisecond,
	}, source, store, extractor, annotator, logger)

	session.SetPassHook(func(summary models.ScanSummary, records []*models.ProductRecord) {
		record := &database.ScanRecord{
			SheetID:   cfg.Store.SheetID,
			Total:     summary.Total,
			Found:     summary.Found,
			NotFound:  summary.NotFound,
			ScannedAt: summary.ScannedAt,
		}
		for _, rec := range records {
			record.Items = append(record.Items, database.ScanItem{
				ProductName: rec.ProductName,
				OptionName:  rec.OptionName,
				Quantity:    rec.Quantity,
				Matched:     rec.State == models.MatchFound,
				Location:    rec.Location,
			})
		}

		event, err := events.ScanCompletedEvent(&events.ScanCompletedPayload{
			SheetID:  cfg.Store.SheetID,
			Total:    summary.Total,
			Found:    summary.Found,
			NotFound: summary.NotFound,
		})
		if err != nil {
			logger.Error("failed to build scan event", "error", err)
			return
		}
		if err := scanRepo.SaveScan(ctx, record, event); err != nil {
			logger.Error("failed to save watcher scan", "error", err)
		}
	})

	go func() {
		defer b.Close()
		defer session.Close()

		if err := session.Run(ctx); err != nil {
			logger.Error("initial page scan failed", "error", err)
		}

		source.Watch(ctx, time.Second, func(ctx context.Context) {
			session.NotifyMutation(ctx)
		})
	}()

	logger.Info("page watcher started", "url", cfg.Scanner.ManifestURL)
	return nil
}
