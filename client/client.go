// Package client talks to the tasklane backend over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"tasklane/domain"
)

const (
	statusSuccess = "success"
	statusFailed  = "failed"

	maxResponseSize = 1 << 20
)

// Client wraps http.Client with the task endpoints used by the board.
type Client struct {
	BaseURL string
	Bearer  string
	HTTP    *http.Client
}

// New creates a new Client. Requests time out after timeout; zero disables it.
func New(baseURL, bearer string, timeout time.Duration) *Client {
	return &Client{BaseURL: baseURL, Bearer: bearer, HTTP: &http.Client{Timeout: timeout}}
}

type statusRequest struct {
	Status domain.Status `json:"status"`
}

type checklistRequest struct {
	Completed bool `json:"completed"`
}

type mutationResponse struct {
	Status  string       `json:"status"`
	Message string       `json:"message,omitempty"`
	Task    *domain.Task `json:"task,omitempty"`
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

// UpdateStatus issues PUT /task/update-status/:taskId. A "failed" answer is
// returned as *domain.MutationRejectedError; anything else is a transport error.
func (c *Client) UpdateStatus(ctx context.Context, taskID string, status domain.Status) error {
	path := "/task/update-status/" + url.PathEscape(taskID)
	return c.mutate(ctx, taskID, path, statusRequest{Status: status})
}

// SetChecklistItem issues PUT /task/update-checklist-item/:taskId/:itemId.
func (c *Client) SetChecklistItem(ctx context.Context, taskID, itemID string, completed bool) error {
	path := "/task/update-checklist-item/" + url.PathEscape(taskID) + "/" + url.PathEscape(itemID)
	return c.mutate(ctx, taskID, path, checklistRequest{Completed: completed})
}

// ListTasks fetches the caller's visible tasks.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var out tasksResponse
	code, err := c.do(ctx, http.MethodGet, "/tasks", nil, "", &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("list tasks: unexpected status %d", code)
	}
	return out.Tasks, nil
}

func (c *Client) mutate(ctx context.Context, taskID, path string, body any) error {
	var resp mutationResponse
	code, err := c.do(ctx, http.MethodPut, path, body, uuid.NewString(), &resp)
	if err != nil {
		return err
	}
	switch {
	case resp.Status == statusFailed:
		msg := resp.Message
		if msg == "" {
			msg = http.StatusText(code)
		}
		return &domain.MutationRejectedError{TaskID: taskID, Message: msg}
	case code >= 200 && code < 300 && resp.Status == statusSuccess:
		return nil
	default:
		return fmt.Errorf("%s: unexpected response %d %q", path, code, resp.Status)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, idempotencyKey string, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := sonic.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.Bearer)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return resp.StatusCode, nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		if resp.StatusCode >= 300 {
			return resp.StatusCode, fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
