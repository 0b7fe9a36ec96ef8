package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evigraph/backend/internal/pipeline"
	"github.com/evigraph/backend/internal/queue"
	"github.com/evigraph/backend/internal/storage"
	"github.com/evigraph/backend/internal/util"

	"github.com/evigraph/backend/pkg/aggregate"
	"github.com/evigraph/backend/pkg/ai"
	oai "github.com/evigraph/backend/pkg/ai/ollama"
	gai "github.com/evigraph/backend/pkg/ai/openai"
	"github.com/evigraph/backend/pkg/extract"
	"github.com/evigraph/backend/pkg/leaselock"
	"github.com/evigraph/backend/pkg/literature"
	"github.com/evigraph/backend/pkg/logger"
	"github.com/evigraph/backend/pkg/logger/console"
	pgstore "github.com/evigraph/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	debug := util.GetEnvBool("DEBUG", false)
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug,
	})
	logger.Init(consoleLogger)

	// Init s3 client
	s3Client := storage.NewS3Client(ctx)

	// Extraction AI client
	adapter := util.GetEnv("AI_ADAPTER")
	var aiClient ai.Client

	switch adapter {
	case "ollama":
		client, err := oai.NewExtractionOllamaClient(oai.NewExtractionOllamaClientParams{
			DefaultModel: util.GetEnv("AI_CHAT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 4)),
		})
		if err != nil {
			logger.Fatal("Could not create Ollama client", "err", err)
		}
		aiClient = client
	default:
		aiClient = gai.NewExtractionOpenAIClient(gai.NewExtractionOpenAIClientParams{
			DefaultModel: util.GetEnv("AI_CHAT_MODEL"),

			ChatURL: util.GetEnv("AI_CHAT_URL"),
			ChatKey: util.GetEnv("AI_CHAT_KEY"),
		})
	}

	// Init pgx client
	pgConn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pgConn.Close()

	if err := util.RetryErr(5, func() error { return pgConn.Ping(ctx) }); err != nil {
		logger.Fatal("Database not reachable", "err", err)
	}

	gateway := pgstore.NewStorageWithConnection(pgConn)

	litClient := literature.NewClient(literature.NewClientParams{
		BaseURL:    util.GetEnv("LIT_SEARCH_URL"),
		ArchiveURL: util.GetEnv("LIT_ARCHIVE_URL"),
		LandingURL: util.GetEnv("LIT_LANDING_URL"),

		RequestDelay: time.Duration(util.GetEnvInt("LIT_REQUEST_DELAY_MS", 350)) * time.Millisecond,

		S3Client: s3Client,
	})

	extractor := extract.NewExtractor(extract.NewExtractorParams{
		Client:          aiClient,
		Model:           util.GetEnv("AI_CHAT_MODEL"),
		MaxPromptTokens: util.GetEnvInt("AI_MAX_PROMPT_TOKENS", 0),
		Timeout:         time.Duration(util.GetEnvInt("AI_TIMEOUT_SECONDS", 120)) * time.Second,
	})

	registry := pipeline.NewRegistry()
	runner := pipeline.NewRunner(pipeline.NewRunnerParams{
		Gateway:    gateway,
		Literature: litClient,
		Extractor:  extractor,
		Aggregates: aggregate.NewStore(),
		Registry:   registry,
		Locker:     leaselock.New(pgConn),
	})

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.SessionQueueName}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	concurrency := util.GetEnvInt("WORKER_CONCURRENCY", 4)
	if concurrency < 1 {
		concurrency = 1
	}

	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	// Prefetch matches the concurrency limit so the broker never hands this
	// worker more sessions than it will run.
	if err := consumerCh.Qos(concurrency, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.SessionQueueName,
		"session_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.SessionQueueName, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.SessionQueueName, "concurrency", concurrency)

	g := new(errgroup.Group)
	g.SetLimit(concurrency)

loop:
	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping consumer", "queue", queue.SessionQueueName)
			break loop
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.SessionQueueName)
				break loop
			}

			g.Go(func() error {
				startTime := time.Now()

				processingErr := queue.ProcessSessionMessage(ctx, runner, string(msg.Body))
				if processingErr != nil {
					logger.Error("Error processing message", "queue", queue.SessionQueueName, "err", processingErr)
					queue.HandleProcessingError(consumerCh, msg, queue.SessionQueueName)
				} else {
					if err := msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
				}

				metrics := aiClient.GetMetrics()
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
				)
				logger.Info("Processing time", "duration", time.Since(startTime).Round(time.Second).String())
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker group error", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
