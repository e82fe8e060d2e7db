package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"tasklane/domain"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	UpsertEntity(ctx context.Context, entity []byte, options *aztables.UpsertEntityOptions) (aztables.UpsertEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage provides access to the task table and the status event queue.
type Storage struct {
	taskTable  tableClient
	eventQueue queueClient
	now        func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(tasksTable), eq), nil
}

func newStorage(tasks tableClient, events queueClient) *Storage {
	return &Storage{taskTable: tasks, eventQueue: events, now: func() time.Time { return time.Now().UTC() }}
}

// GetTask returns the user's task. Missing and soft-deleted tasks yield
// domain.ErrTaskNotFound.
func (s *Storage) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	resp, err := s.taskTable.GetEntity(ctx, userID, taskID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return domain.Task{}, domain.ErrTaskNotFound
		}
		return domain.Task{}, err
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Task{}, err
	}
	task, err := ent.toDomain()
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", taskID, err)
	}
	if task.Deleted {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return task, nil
}

// ListTasks retrieves all visible tasks for the provided user.
func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			task, err := ent.toDomain()
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", ent.RowKey, err)
			}
			if task.Deleted {
				continue
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// Ping reads at most one row key from the task table.
func (s *Storage) Ping(ctx context.Context) error {
	top := int32(1)
	sel := "RowKey"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Top: &top, Select: &sel})
	if _, err := pager.NextPage(ctx); err != nil {
		return fmt.Errorf("tasks table: %w", err)
	}
	return nil
}

// PutTask creates or replaces a task row.
func (s *Storage) PutTask(ctx context.Context, userID string, task domain.Task) error {
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = s.now()
	}
	ent, err := newTaskEntity(userID, task)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err == nil {
		_, err = s.taskTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// UpdateStatus writes the task's status and returns the updated task along
// with the status it had before. Requesting the current status is a no-op:
// nothing is written and from equals the task's status. Writes are
// unconditional, so the last writer wins.
func (s *Storage) UpdateStatus(ctx context.Context, userID, taskID string, status domain.Status) (task domain.Task, from domain.Status, err error) {
	if !status.Valid() {
		return domain.Task{}, "", domain.ErrInvalidStatus
	}
	task, err = s.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, "", err
	}
	from = task.Status
	if from == status {
		return task, from, nil
	}
	now := s.now()
	st := string(status)
	edm := EdmDateTime
	if err := s.merge(ctx, taskUpdate{
		Entity:        Entity{PartitionKey: userID, RowKey: taskID},
		Status:        &st,
		UpdatedAt:     &now,
		UpdatedAtType: &edm,
	}); err != nil {
		return domain.Task{}, "", err
	}
	task.Status = status
	task.UpdatedAt = now
	return task, from, nil
}

// SetChecklistItem sets one checklist item's completion flag.
func (s *Storage) SetChecklistItem(ctx context.Context, userID, taskID, itemID string, completed bool) (domain.Task, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	item, ok := task.ChecklistItem(itemID)
	if !ok {
		return domain.Task{}, domain.ErrChecklistItemNotFound
	}
	if item.Completed == completed {
		return task, nil
	}
	item.Completed = completed
	checklist, err := encodeChecklist(task.Checklist)
	if err != nil {
		return domain.Task{}, err
	}
	now := s.now()
	edm := EdmDateTime
	if err := s.merge(ctx, taskUpdate{
		Entity:        Entity{PartitionKey: userID, RowKey: taskID},
		Checklist:     &checklist,
		UpdatedAt:     &now,
		UpdatedAtType: &edm,
	}); err != nil {
		return domain.Task{}, err
	}
	task.UpdatedAt = now
	return task, nil
}

func (s *Storage) merge(ctx context.Context, upd taskUpdate) error {
	payload, err := sonic.Marshal(upd)
	if err == nil {
		et := azcore.ETagAny
		_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	return err
}

// AppendEvent sends a status change to the event queue.
func (s *Storage) AppendEvent(ctx context.Context, ev domain.StatusChangedEvent) error {
	data, err := sonic.MarshalString(ev)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, data, nil)
	return err
}
