// Worker forwards security events from Kafka to Loki and prunes persisted events past retention.
// Set KAFKA_BROKERS, TELEMETRY_KAFKA_TOPIC, KAFKA_GROUP_ID and LOKI_URL for forwarding, and
// DATABASE_URL with SECURITY_EVENT_RETENTION for pruning. At least one of the two must be configured.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	auditrepo "github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/audit/repository"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/config"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/db"
	"github.com/TheStackSquad/the-almaroof-initiative-sub000/internal/telemetry/loki"
)

const (
	pushTimeout       = 10 * time.Second
	retentionInterval = time.Hour
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	brokers := cfg.TelemetryKafkaBrokersList()
	forward := len(brokers) > 0 && cfg.LokiURL != ""
	prune := cfg.DatabaseURL != ""
	if !forward && !prune {
		log.Fatal("worker: set KAFKA_BROKERS and LOKI_URL to forward events, or DATABASE_URL to prune them")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if forward {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(ctx, cfg, brokers)
		}()
	}
	if prune {
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("worker: db: %v", err)
		}
		defer sqlDB.Close()
		repo := auditrepo.NewPostgresRepository(sqlDB)
		wg.Add(1)
		go func() {
			defer wg.Done()
			retain(ctx, repo, cfg.SecurityEventRetentionDuration())
		}()
	}

	wg.Wait()
	log.Println("worker: stopped")
}

// consume reads security events from Kafka and pushes each one to Loki until ctx is done.
func consume(ctx context.Context, cfg *config.Config, brokers []string) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.TelemetryKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
		CommitInterval: time.Second,
	})
	defer reader.Close()
	lokiClient := loki.NewClient(cfg.LokiURL, &http.Client{Timeout: pushTimeout})

	log.Printf("worker: consuming from %s (group %s), pushing to %s", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}

		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		if err := lokiClient.PushEventJSON(pushCtx, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
		cancel()
	}
}

type pruner interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// retain deletes persisted security events older than retention, hourly until ctx is done.
func retain(ctx context.Context, repo pruner, retention time.Duration) {
	log.Printf("worker: pruning security events older than %s", retention)
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		n, err := repo.DeleteBefore(ctx, time.Now().UTC().Add(-retention))
		switch {
		case err != nil && ctx.Err() == nil:
			log.Printf("worker: prune security events: %v", err)
		case n > 0:
			log.Printf("worker: pruned %d security events", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
