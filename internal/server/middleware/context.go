package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/evigraph/backend/internal/pipeline"
	"github.com/evigraph/backend/pkg/store"
)

// App holds the shared handles every request handler needs.
type App struct {
	DBConn   *pgxpool.Pool
	Gateway  store.Gateway
	Queue    *amqp091.Channel
	Registry *pipeline.Registry
}

type AppContext struct {
	echo.Context
	App *App
}

func AppContextMiddleware(
	db *pgxpool.Pool,
	gateway store.Gateway,
	queue *amqp091.Channel,
	registry *pipeline.Registry,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			app := &App{
				DBConn:   db,
				Gateway:  gateway,
				Queue:    queue,
				Registry: registry,
			}
			cc := &AppContext{c, app}
			return next(cc)
		}
	}
}
