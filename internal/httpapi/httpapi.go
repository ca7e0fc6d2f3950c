// Package httpapi exposes an optional /health and /metrics endpoint over Fiber. Both ports are
// individually optional; an empty port string disables that listener entirely.
package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the worker considers itself healthy, and why not if it doesn't.
type HealthFunc func() (ok bool, reason string)

// Server is the worker's health/metrics HTTP surface.
type Server struct {
	app       *fiber.App
	metricsApp *fiber.App
}

// New builds the health app; healthy is polled on every /health request.
func New(healthy HealthFunc) *Server {
	app := fiber.New(fiber.Config{
		AppName:       "transcription-worker",
		StrictRouting: true,
		DisableStartupMessage: true,
	})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	app.Get("/health", func(c *fiber.Ctx) error {
		ok, reason := healthy()
		status := fiber.StatusOK
		if !ok {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"status":    ok,
			"reason":    reason,
			"timestamp": time.Now().Unix(),
		})
	})

	return &Server{app: app}
}

// Listen starts the health app on port (e.g. ":8080"); a caller should run this in its own
// goroutine since it blocks until Shutdown.
func (s *Server) Listen(port string) error {
	return s.app.Listen(port)
}

// ListenMetrics starts a standalone Prometheus /metrics app on port, separate from /health so
// the two can be exposed on different ports (or disabled independently) per deployment.
func (s *Server) ListenMetrics(port string) error {
	s.metricsApp = fiber.New(fiber.Config{DisableStartupMessage: true})
	s.metricsApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	return s.metricsApp.Listen(port)
}

// Shutdown gracefully stops both apps, whichever were started.
func (s *Server) Shutdown() error {
	if s.metricsApp != nil {
		_ = s.metricsApp.ShutdownWithTimeout(10 * time.Second)
	}
	return s.app.ShutdownWithTimeout(10 * time.Second)
}
