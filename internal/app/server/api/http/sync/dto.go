package sync

import (
	"clinisync/internal/domain/sync"
)

// Request/Response структуры для Submit
type submitInput struct {
	Body sync.BatchRequest
}

type submitOutput struct {
	Status int
	Body   SubmitResponse
}

// SubmitResponse carries exactly one of the two outcomes: Result for a
// batch processed inline (200), Queued for a batch handed to the async
// queue (202).
type SubmitResponse struct {
	Result *sync.BatchResponse  `json:"result,omitempty"`
	Queued *sync.QueuedResponse `json:"queued,omitempty"`
}

// Request/Response для SubmitAsync
type asyncInput struct {
	Body sync.BatchRequest
}

type asyncOutput struct {
	Body sync.QueuedResponse
}

// Request/Response для BatchStatus
type batchStatusInput struct {
	ID string `path:"id" doc:"Batch id returned at submission time"`
}

type batchStatusOutput struct {
	Body sync.BatchStatusResponse
}

// Request/Response для DeviceStatus
type deviceStatusInput struct {
	DeviceID string `query:"device_id" required:"true" maxLength:"100" doc:"Device identifier"`
}

type deviceStatusOutput struct {
	Body sync.DeviceStatusResponse
}
