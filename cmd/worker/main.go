package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/diligence/internal/bootstrap"
	"github.com/OFFIS-RIT/diligence/internal/queue"
	"github.com/OFFIS-RIT/diligence/internal/storage"
	"github.com/OFFIS-RIT/diligence/internal/util"
	"github.com/OFFIS-RIT/diligence/pkg/leaselock"
	"github.com/OFFIS-RIT/diligence/pkg/logger"
	pgstore "github.com/OFFIS-RIT/diligence/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrap.Logger()

	st, _, err := storage.NewFromEnv(ctx)
	if err != nil {
		logger.Fatal("Could not create s3 client", "err", err)
	}

	aiClient, err := bootstrap.AIClient()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	extractor, closeCache, err := bootstrap.Extractor(ctx, aiClient)
	if err != nil {
		logger.Fatal("Could not create concept extractor", "err", err)
	}
	defer closeCache()

	pool, err := bootstrap.Pool(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	processor := queue.NewRunProcessor(queue.NewRunProcessorParams{
		Storage: st,
		Locker:  leaselock.NewLocker(pool),
		Client:  aiClient,
		Stores: func(corpus string) queue.CorpusStore {
			return pgstore.NewFragmentStore(pool, aiClient, corpus)
		},
		Fetcher:   bootstrap.Fetcher(),
		Extractor: extractor,
		Keywords:  bootstrap.Keywords(),
		Splitter:  bootstrap.Splitter(),
		Parallel:  util.GetEnvInt("PIPELINE_PARALLEL", 4),
		TopK:      bootstrap.RetrievalTopK(),
		LeaseTTL:  util.GetEnvSeconds("RUN_LEASE_TTL_SEC", 5*time.Minute),
	})

	conn, err := queue.Dial()
	if err != nil {
		logger.Fatal("Failed to connect to rabbitmq", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, queue.RunQueue); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// One run at a time per worker.
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}
	msgs, err := ch.Consume(queue.RunQueue, "run_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.RunQueue, "err", err)
	}

	logger.Info("Listening for messages")
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.RunQueue)
				return
			}
			startTime := time.Now()
			logger.Info("Received message", "queue", queue.RunQueue)

			if err := processor.ProcessRunMessage(ctx, msg.Body); err != nil {
				logger.Error("Error processing message", "queue", queue.RunQueue, "err", err)
				queue.HandleFailure(context.WithoutCancel(ctx), ch, msg, queue.RunQueue, err)
			} else {
				if err := msg.Ack(false); err != nil {
					logger.Error("Failed to ack message", "err", err)
				}
				logger.Info("Message processed successfully", "queue", queue.RunQueue)
			}

			logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
			logger.Info("Waiting for next message")
			aiClient.ResetMetrics()
		}
	}
}

func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
