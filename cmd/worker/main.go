package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gymaccess/internal/config"
	"gymaccess/internal/history"
	"gymaccess/internal/queue"
	"gymaccess/internal/store"
)

// Worker consumes occupancy snapshots from the shared queue and records
// them as history samples.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "" || cfg.QueueBackend == queue.BackendMemory {
		log.Fatalf("worker needs a shared queue backend (QUEUE_BACKEND=redis or kafka), got %q", cfg.QueueBackend)
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := history.NewRepository(db.Client)
	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatalf("history schema: %v", err)
	}

	qopts := queue.Options{
		Backend:      cfg.QueueBackend,
		RedisKey:     cfg.QueueKey,
		KafkaBrokers: cfg.KafkaBrokers,
		KafkaTopic:   cfg.KafkaTopic,
		KafkaGroupID: cfg.KafkaGroupID,
	}
	if cfg.QueueBackend == queue.BackendRedis {
		redisClient := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword)
		defer redisClient.Client.Close()
		if !redisClient.Healthy(ctx) {
			log.Printf("warning: redis not reachable at %s, will keep retrying", cfg.RedisAddr)
		}
		qopts.Redis = redisClient.Client
	}

	q, closeQueue, err := queue.Open(qopts)
	if err != nil {
		log.Fatalf("queue: %v", err)
	}
	defer closeQueue()

	log.Printf("worker started (%s backend)", cfg.QueueBackend)
	if err := history.NewRecorder(repo).Run(ctx, q); err != nil {
		log.Printf("recorder stopped: %v", err)
	}
	log.Println("worker stopped")
}
