package api

import (
	"context"

	"tasklane/domain"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	GetTask(ctx context.Context, userID, taskID string) (domain.Task, error)
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	UpdateStatus(ctx context.Context, userID, taskID string, status domain.Status) (domain.Task, domain.Status, error)
	SetChecklistItem(ctx context.Context, userID, taskID, itemID string, completed bool) (domain.Task, error)
	AppendEvent(ctx context.Context, ev domain.StatusChangedEvent) error
}

// Pinger is implemented by stores that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// IdempotencyScope names the mutation an Idempotency-Key was sent for. ItemID
// is empty for status updates.
type IdempotencyScope struct {
	UserID string
	TaskID string
	ItemID string
	Key    string
}

// Deduper prevents processing of duplicate requests.
type Deduper interface {
	// Claim records the scoped key and returns true if it was newly added.
	Claim(ctx context.Context, scope IdempotencyScope) (bool, error)
	// Release forgets a claimed key, used when downstream processing fails.
	Release(ctx context.Context, scope IdempotencyScope) error
}

// Publisher fans applied status changes out to other instances.
type Publisher interface {
	Publish(ctx context.Context, ev domain.StatusChangedEvent) error
}

// Deps bundles the collaborators of the routes. Deduper and Publisher are optional.
type Deps struct {
	Store     Storage
	Auth      Authenticator
	Deduper   Deduper
	Publisher Publisher
}
