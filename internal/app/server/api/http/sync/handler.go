package sync

import (
	"context"
	"errors"
	"net/http"

	"clinisync/internal/domain/sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

type Handler struct {
	service    sync.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service sync.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.submitOp(), h.submit)
	huma.Register(api, h.submitAsyncOp(), h.submitAsync)
	huma.Register(api, h.batchStatusOp(), h.batchStatus)
	huma.Register(api, h.deviceStatusOp(), h.deviceStatus)
}

func (h *Handler) submit(ctx context.Context, input *submitInput) (*submitOutput, error) {
	result, queued, err := h.service.Submit(ctx, input.Body)
	if err != nil {
		return nil, h.mapError(err)
	}

	if queued != nil {
		return &submitOutput{
			Status: http.StatusAccepted,
			Body:   SubmitResponse{Queued: queued},
		}, nil
	}
	return &submitOutput{
		Status: http.StatusOK,
		Body:   SubmitResponse{Result: result},
	}, nil
}

func (h *Handler) submitAsync(ctx context.Context, input *asyncInput) (*asyncOutput, error) {
	queued, err := h.service.Enqueue(ctx, input.Body)
	if err != nil {
		return nil, h.mapError(err)
	}
	return &asyncOutput{Body: *queued}, nil
}

func (h *Handler) batchStatus(ctx context.Context, input *batchStatusInput) (*batchStatusOutput, error) {
	batchID, err := uuid.Parse(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid batch id")
	}

	status, err := h.service.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, h.mapError(err)
	}
	return &batchStatusOutput{Body: *status}, nil
}

func (h *Handler) deviceStatus(ctx context.Context, input *deviceStatusInput) (*deviceStatusOutput, error) {
	status, err := h.service.DeviceStatus(ctx, input.DeviceID)
	if err != nil {
		return nil, h.mapError(err)
	}
	return &deviceStatusOutput{Body: *status}, nil
}

func (h *Handler) mapError(err error) error {
	var verr *sync.ValidationError
	switch {
	case errors.As(err, &verr):
		return huma.Error422UnprocessableEntity(verr.Reason)
	case errors.Is(err, sync.ErrBatchNotFound):
		return huma.Error404NotFound("batch not found")
	default:
		h.log.Error("sync request failed", "error", err)
		return huma.Error500InternalServerError("internal error")
	}
}
