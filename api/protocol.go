package api

import "tasklane/domain"

const (
	maxRequestSize = 16 * 1024 // 16 KiB

	statusSuccess = "success"
	statusFailed  = "failed"

	headerIdempotencyKey = "Idempotency-Key"
)

// PUT /task/update-status/:taskId request body. Source is optional and only
// recorded on the emitted event.
type updateStatusRequest struct {
	Status string        `json:"status"`
	Source domain.Source `json:"source,omitempty"`
}

// PUT /task/update-checklist-item/:taskId/:itemId request body
type updateChecklistItemRequest struct {
	Completed *bool `json:"completed"`
}

// mutationResponse is the body of both PUT endpoints.
type mutationResponse struct {
	Status    string       `json:"status"`
	Message   string       `json:"message,omitempty"`
	Task      *domain.Task `json:"task,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func failed(msg string) mutationResponse {
	return mutationResponse{Status: statusFailed, Message: msg}
}
