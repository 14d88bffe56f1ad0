package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// scan-consumer tails the scan results stream and maintains per-sheet daily
// rollups, so match-rate trends survive the capped scan history.

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	logger.Info("connected to redis", "addr", redisAddr)

	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_HOST", "localhost"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "truck_locator"),
	)

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("connected to database")

	consumer := &Consumer{
		redis:  rdb,
		db:     db,
		logger: logger,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-sigChan
		logger.Info("shutting down...")
		cancel()
	}()

	if err := consumer.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("Consumer error: %v", err)
	}
}

type Consumer struct {
	redis  *redis.Client
	db     *pgxpool.Pool
	logger *slog.Logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Consumer) Run(ctx context.Context) error {
	streamKey := getEnv("REDIS_STREAM", "stream:scan_results")
	consumerGroup := "scan-rollup-group"
	consumerName := getEnv("CONSUMER_NAME", "rollup-1")

	// Create consumer group (ignore error if already exists)
	c.redis.XGroupCreate(ctx, streamKey, consumerGroup, "0").Err()

	c.logger.Info("starting consumer", "stream", streamKey, "group", consumerGroup)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    consumerGroup,
				Consumer: consumerName,
				Streams:  []string{streamKey, ">"},
				Count:    10,
				Block:    5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				c.logger.Error("failed to read from stream", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for _, stream := range streams {
				for _, message := range stream.Messages {
					if err := c.processMessage(ctx, message); err != nil {
						c.logger.Error("failed to process message", "id", message.ID, "error", err)
						continue
					}

					if err := c.redis.XAck(ctx, streamKey, consumerGroup, message.ID).Err(); err != nil {
						c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
					}
				}
			}
		}
	}
}

// scanCompleted is the payload shape published by the scanner's outbox
type scanCompleted struct {
	ScanID    string    `json:"scan_id"`
	SheetID   string    `json:"sheet_id"`
	Total     int       `json:"total"`
	Found     int       `json:"found"`
	NotFound  int       `json:"not_found"`
	Timestamp time.Time `json:"timestamp"`
}

func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	eventType, ok := msg.Values["event_type"].(string)
	if !ok || eventType != "SCAN_COMPLETED" {
		return nil
	}

	dataStr, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in event")
	}

	var envelope struct {
		Payload scanCompleted `json:"payload"`
	}
	if err := json.Unmarshal([]byte(dataStr), &envelope); err != nil {
		return fmt.Errorf("failed to parse event data: %w", err)
	}

	payload := envelope.Payload
	if payload.SheetID == "" {
		return fmt.Errorf("missing sheet_id in payload")
	}
	day := payload.Timestamp
	if day.IsZero() {
		day = time.Now()
	}

	c.logger.Info("processing scan result",
		"message_id", msg.ID,
		"scan_id", payload.ScanID,
		"sheet_id", payload.SheetID,
		"found", payload.Found,
		"not_found", payload.NotFound,
	)

	query := `
		INSERT INTO scan_daily_stats (sheet_id, day, scans, items, found, not_found)
		VALUES ($1, $2, 1, $3, $4, $5)
		ON CONFLICT (sheet_id, day) DO UPDATE SET
			scans = scan_daily_stats.scans + 1,
			items = scan_daily_stats.items + EXCLUDED.items,
			found = scan_daily_stats.found + EXCLUDED.found,
			not_found = scan_daily_stats.not_found + EXCLUDED.not_found`

	_, err := c.db.Exec(ctx, query,
		payload.SheetID, day.Format("2006-01-02"),
		payload.Total, payload.Found, payload.NotFound,
	)
	if err != nil {
		return fmt.Errorf("failed to update daily stats: %w", err)
	}

	return nil
}
