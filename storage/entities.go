package storage

import (
	"time"

	"github.com/bytedance/sonic"

	"tasklane/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmBoolean  = "Edm.Boolean"
	EdmDateTime = "Edm.DateTime"
)

// taskEntity is a task row. The checklist is kept as a JSON string because
// table properties cannot hold arrays.
type taskEntity struct {
	Entity
	Title         string     `json:"Title,omitempty"`
	Description   string     `json:"Description,omitempty"`
	Priority      string     `json:"Priority,omitempty"`
	Category      string     `json:"Category,omitempty"`
	DueDate       *time.Time `json:"DueDate,omitempty"`
	DueDateType   string     `json:"DueDate@odata.type,omitempty"`
	Checklist     string     `json:"Checklist,omitempty"`
	Status        string     `json:"Status"`
	Deleted       bool       `json:"Deleted"`
	DeletedType   string     `json:"Deleted@odata.type,omitempty"`
	UpdatedAt     time.Time  `json:"UpdatedAt"`
	UpdatedAtType string     `json:"UpdatedAt@odata.type,omitempty"`
}

// taskUpdate carries partial updates merged into an existing row.
type taskUpdate struct {
	Entity
	Status        *string    `json:"Status,omitempty"`
	Checklist     *string    `json:"Checklist,omitempty"`
	UpdatedAt     *time.Time `json:"UpdatedAt,omitempty"`
	UpdatedAtType *string    `json:"UpdatedAt@odata.type,omitempty"`
}

func newTaskEntity(userID string, t domain.Task) (taskEntity, error) {
	checklist, err := encodeChecklist(t.Checklist)
	if err != nil {
		return taskEntity{}, err
	}
	ent := taskEntity{
		Entity:        Entity{PartitionKey: userID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Priority:      string(t.Priority),
		Category:      t.Category,
		DueDate:       t.DueDate,
		Checklist:     checklist,
		Status:        string(t.Status),
		Deleted:       t.Deleted,
		DeletedType:   EdmBoolean,
		UpdatedAt:     t.UpdatedAt,
		UpdatedAtType: EdmDateTime,
	}
	if t.DueDate != nil {
		ent.DueDateType = EdmDateTime
	}
	return ent, nil
}

func (e taskEntity) toDomain() (domain.Task, error) {
	status, err := domain.ParseStatus(e.Status)
	if err != nil {
		return domain.Task{}, err
	}
	checklist := []domain.ChecklistItem{}
	if e.Checklist != "" {
		if err := sonic.UnmarshalString(e.Checklist, &checklist); err != nil {
			return domain.Task{}, err
		}
	}
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		Priority:    domain.Priority(e.Priority),
		Category:    e.Category,
		DueDate:     e.DueDate,
		Checklist:   checklist,
		Status:      status,
		Deleted:     e.Deleted,
		UpdatedAt:   e.UpdatedAt,
	}, nil
}

func encodeChecklist(items []domain.ChecklistItem) (string, error) {
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	return sonic.MarshalString(items)
}
