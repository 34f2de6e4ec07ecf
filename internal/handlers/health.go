package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/coinbot/internal/healthcheck"
)

// HealthHandler serves liveness probes and the runtime status report.
type HealthHandler struct {
	logger   *slog.Logger
	checkers []healthcheck.Checker
	started  time.Time
	version  string
}

func NewHealthHandler(log *slog.Logger, version string, checkers ...healthcheck.Checker) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		checkers: checkers,
		started:  time.Now(),
		version:  version,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.HEAD("/health", h.Alive)
	e.GET("/status", h.Status)
}

func (h *HealthHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HealthHandler) Alive(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type statusResponse struct {
	healthcheck.Report
	Version string `json:"version,omitempty"`
	Uptime  string `json:"uptime"`
}

// Status answers 503 only when a check reports an error.
func (h *HealthHandler) Status(c echo.Context) error {
	report := healthcheck.Collect(c.Request().Context(), h.checkers...)
	code := http.StatusOK
	if report.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("status degraded", slog.Int("checks", len(report.Checks)))
	}
	return c.JSON(code, statusResponse{
		Report:  report,
		Version: h.version,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	})
}
