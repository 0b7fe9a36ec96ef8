package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evigraph/backend/internal/pipeline"
	"github.com/evigraph/backend/internal/queue"
	mid "github.com/evigraph/backend/internal/server/middleware"
	"github.com/evigraph/backend/internal/util"
	"github.com/evigraph/backend/pkg/logger"
	pgstore "github.com/evigraph/backend/pkg/store/pgx"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

func Init() {
	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := pgxpool.New(ctx, util.GetEnv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()

	// Pool creation is lazy; make sure the database is actually reachable
	// before serving traffic.
	if err := util.RetryErr(5, func() error { return conn.Ping(ctx) }); err != nil {
		logger.Fatal("Database not reachable", "err", err)
	}

	gateway := pgstore.NewStorageWithConnection(conn)

	que := queue.Init()
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}

	if err := queue.SetupQueues(ch, []string{queue.SessionQueueName}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// Sessions run in workers, so this registry stays empty; stop requests
	// reach them through the persisted StopRequested flag.
	registry := pipeline.NewRegistry()

	e.Use(mid.AppContextMiddleware(conn, gateway, ch, registry))
	e.Use(middleware.CORS())
	e.Use(middleware.Recover())

	RegisterRoutes(e)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
