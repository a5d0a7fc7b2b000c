package health

import (
	"context"
	"net/http"

	"clinisync/internal/metrics"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger probes the database connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	db         Pinger
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(db Pinger, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		db:         db,
		log:        log,
		middleware: middleware,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	h.log.Debug("health check request received")

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Warn("database ping failed", "error", err)
			metrics.HealthStatus.Set(0)
			return &Output{
				Status: http.StatusServiceUnavailable,
				Body: Response{
					Status:   "degraded",
					Database: "down",
				},
			}, nil
		}
	}

	metrics.HealthStatus.Set(1)
	return &Output{
		Status: http.StatusOK,
		Body: Response{
			Status:   "OK",
			Database: "up",
		},
	}, nil
}
