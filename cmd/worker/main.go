package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartattend/internal/attendance"
	"smartattend/internal/config"
	"smartattend/internal/queue"
	"smartattend/internal/store"
)

// Worker consumes check-in outcome events and writes the audit trail. Keeping
// the audit insert off the request path means a slow database never delays a
// student's verification response.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if cfg.QueueBackend == "memory" {
		// The in-memory queue lives inside the API process; a separate worker
		// would consume nothing forever.
		log.Fatal("QUEUE_BACKEND=memory is not usable from a standalone worker, use the redis backend")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	q := queue.NewRedisQueue(redisClient.Client, "smartattend:checkins")

	repo := attendance.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for messages...")
	for msg := range messages {
		if msg.Type != queue.TypeCheckin {
			continue
		}

		var ev queue.CheckinEvent
		if err := json.Unmarshal(msg.Body, &ev); err != nil {
			log.Printf("malformed checkin event: %v", err)
			continue
		}

		if err := repo.InsertAuditEvent(ctx, &attendance.AuditEvent{
			SessionID: ev.SessionID,
			StudentID: ev.StudentID,
			Code:      ev.Code,
			Success:   ev.Success,
			CreatedAt: time.Now().UTC(),
		}); err != nil {
			log.Printf("audit insert failed for session=%s student=%s: %v", ev.SessionID, ev.StudentID, err)
			continue
		}
		log.Printf("audit recorded: session=%s student=%s code=%s", ev.SessionID, ev.StudentID, ev.Code)
	}

	log.Println("worker stopped")
}
