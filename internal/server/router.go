package server

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rubot/rubot/internal/cache"
	"github.com/rubot/rubot/internal/metrics"
	"github.com/rubot/rubot/internal/pipeline"
)

// CacheInfoFunc 返回各缓存命名空间的统计信息。
type CacheInfoFunc func(ctx context.Context) (map[string]cache.Info, error)

// AppOptions controls which diagnostics the status application exposes.
type AppOptions struct {
	Logger    *logrus.Logger
	Status    *pipeline.Status
	CacheInfo CacheInfoFunc
	Metrics   *metrics.Metrics
}

const contextKeyRequestID = "_rubot_request_id"

// NewApp builds the Fiber status application: health, run progress, cache
// statistics and the Prometheus scrape endpoint.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Status == nil {
		return nil, errors.New("run status is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(opts.Status.Snapshot())
	})

	app.Get("/-/cache", func(c fiber.Ctx) error {
		if opts.CacheInfo == nil {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_disabled"})
		}
		infos, err := opts.CacheInfo(c.Context())
		if err != nil {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "cache_info",
				"request_id": RequestID(c),
				"error":      err.Error(),
			}).Warn("读取缓存信息失败")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "cache_info_failed"})
		}
		return c.JSON(infos)
	})

	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	app.Use(func(c fiber.Ctx) error {
		path := string(c.Request().URI().Path())
		if !isDiagnosticsPath(path) && path != "/metrics" {
			opts.Logger.WithFields(logrus.Fields{
				"action":     "status_route",
				"path":       path,
				"request_id": RequestID(c),
			}).Debug("unknown path")
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
