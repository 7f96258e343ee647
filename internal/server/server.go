package server

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/makeasinger/lrcgen/internal/client"
	"github.com/makeasinger/lrcgen/internal/config"
	"github.com/makeasinger/lrcgen/internal/handler"
	"github.com/makeasinger/lrcgen/internal/metrics"
	"github.com/makeasinger/lrcgen/internal/middleware"
	"github.com/makeasinger/lrcgen/internal/model"
	"github.com/makeasinger/lrcgen/internal/service"
	"github.com/makeasinger/lrcgen/internal/web"
	"github.com/makeasinger/lrcgen/pkg/response"
)

// processPath is the only route that accepts a request body
const processPath = "/api/process"

// multipartSlack is the room left above the file ceiling for the apiKey
// field and multipart framing.
const multipartSlack = 1 << 20

// Deps are the collaborators the HTTP app is assembled from
type Deps struct {
	Config      *config.Config
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	Redis       *redis.Client // nil disables rate limiting
	Transcriber client.AudioTranscriber
}

// New builds the Fiber app with every route registered
func New(d Deps) *fiber.App {
	cfg := d.Config
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	// Initialize services
	uploadService := service.NewUploadService()
	lyricsService := service.NewLyricsService(d.Transcriber, d.Metrics, log)

	// Initialize handlers
	processHandler := handler.NewProcessHandler(
		uploadService,
		lyricsService,
		validator.New(),
		d.Metrics,
		log,
		cfg.Upload.MaxFileSize,
	)

	rateLimiter := middleware.NewRateLimiter(d.Redis, log)

	app := fiber.New(fiber.Config{
		ErrorHandler:          newErrorHandler(cfg.Upload.MaxFileSize, log),
		BodyLimit:             int(cfg.Upload.MaxFileSize) + multipartSlack,
		DisableStartupMessage: !cfg.IsDevelopment(),
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		// bodies carry the caller's API key, so they are never logged
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${ip} ${bytesReceived} ${error}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Form page
	app.Get("/", web.Index)

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis": redisUp(c.UserContext(), d.Redis),
			},
			"uploadMode": d.Transcriber.Mode(),
			"model":      cfg.Gemini.Model,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API routes
	app.Post(processPath, rateLimiter.ProcessLimit(cfg.RateLimit.ProcessPerMin), processHandler.Process)
	app.All(processPath, processHandler.MethodNotAllowed)

	return app
}

func redisUp(ctx context.Context, rdb *redis.Client) bool {
	if rdb == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return rdb.Ping(ctx).Err() == nil
}

func isProcessPath(path string) bool {
	return path == processPath || path == processPath+"/"
}

// newErrorHandler maps errors that escape a handler to the flat error body
func newErrorHandler(maxFileSize int64, log *zap.Logger) fiber.ErrorHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := model.MsgInternalError

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			switch code {
			case fiber.StatusRequestEntityTooLarge:
				message = model.FileTooLargeMessage(maxFileSize)
				// the body limit is checked before routing, so a wrong method
				// with a large body lands here instead of in the handler
				if isProcessPath(c.Path()) && c.Method() != fiber.MethodPost {
					code = fiber.StatusMethodNotAllowed
					message = model.MsgUnsupportedMethod
					c.Set(fiber.HeaderAllow, fiber.MethodPost)
				}
			case fiber.StatusMethodNotAllowed:
				message = model.MsgUnsupportedMethod
			case fiber.StatusNotFound:
				message = model.MsgNotFound
			case fiber.StatusInternalServerError:
				// keep the generic message
			default:
				message = e.Message
			}
		}

		if code >= fiber.StatusInternalServerError {
			log.Error("unhandled request error",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		return response.Error(c, code, message)
	}
}
