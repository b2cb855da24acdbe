package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lumenpay/lumenpay/internal/config"
	"github.com/lumenpay/lumenpay/internal/coordinator"
	"github.com/lumenpay/lumenpay/internal/interest"
	"github.com/lumenpay/lumenpay/internal/ledger"
	"github.com/lumenpay/lumenpay/internal/middleware"
	"github.com/lumenpay/lumenpay/internal/money"
	"github.com/lumenpay/lumenpay/internal/notification"
	"github.com/lumenpay/lumenpay/internal/transfer"
	"github.com/lumenpay/lumenpay/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Outside of dev the durable store and the cache are mandatory; in dev the
	// in-memory store and a nil cache keep the app runnable without backends.
	if !isDev(d.Cfg.AppEnv) {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	// Services and handlers
	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		store = ledger.NewInMemory()
	}

	annualRate, err := money.Parse(d.Cfg.InterestAnnualRate)
	if err != nil {
		return fmt.Errorf("INTEREST_ANNUAL_RATE: %w", err)
	}

	coord := coordinator.New(d.Cache, d.Cfg.IdempotencyTTL, d.Cfg.LockTTL, d.Logger)
	notifier := notification.NewLoggerNotifier(d.Logger)

	walletSvc := wallet.NewService(store)
	transferSvc := transfer.NewService(store, coord, notifier, d.Logger)
	interestSvc := interest.NewService(store, interest.NewCalculator(), annualRate, notifier, d.Logger)

	walletHandler := wallet.NewHandler(walletSvc)
	transferHandler := transfer.NewHandler(transferSvc)
	interestHandler := interest.NewHandler(interestSvc)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.GetRequestID(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterWalletRoutes(api, walletHandler)
	RegisterTransferRoutes(api, transferHandler)
	RegisterInterestRoutes(api, interestHandler)

	return nil
}

func isDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}
