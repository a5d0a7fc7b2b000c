package sync

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) submitOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-submit",
		Method:      http.MethodPost,
		Path:        "/api/v1/sync",
		Summary:     "Submit a batch of offline operations",
		Description: "Processes the batch inline when it is at or under the async threshold, otherwise persists it and hands it to the background queue.",
		Tags:        []string{"sync"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) submitAsyncOp() huma.Operation {
	return huma.Operation{
		OperationID:   "sync-submit-async",
		Method:        http.MethodPost,
		Path:          "/api/v1/sync/async",
		Summary:       "Queue a batch for background processing",
		Description:   "Persists the batch and hands it to the background queue regardless of size.",
		Tags:          []string{"sync"},
		DefaultStatus: http.StatusAccepted,
		Security:      []map[string][]string{{"bearer": {}}},
		Middlewares:   h.middleware,
	}
}

func (h *Handler) batchStatusOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-batch-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/batch/{id}",
		Summary:     "Poll the status of a queued batch",
		Tags:        []string{"sync"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) deviceStatusOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-device-status",
		Method:      http.MethodGet,
		Path:        "/api/v1/sync/status",
		Summary:     "Report a device's sync checkpoint",
		Tags:        []string{"sync"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
