package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"tasklane/domain"
	"tasklane/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	if connStr == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}
	tasksTable := getEnv("TASKS_TABLE", "Tasks")
	eventsQueue := getEnv("EVENTS_QUEUE", "task-status-events")

	ctx := context.Background()

	if err := createTables(ctx, connStr, []string{tasksTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueues(ctx, connStr, []string{eventsQueue}); err != nil {
		log.Fatalf("create queues: %v", err)
	}

	if path := os.Getenv("SEED_FILE"); path != "" {
		store, err := storage.New(connStr, tasksTable, eventsQueue)
		if err != nil {
			log.Fatalf("storage: %v", err)
		}
		n, err := seed(ctx, store, path)
		if err != nil {
			log.Fatalf("seed: %v", err)
		}
		log.WithField("tasks", n).Info("seeded tasks")
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		c := svc.NewClient(name)
		_, err := c.CreateTable(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

func createQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		_, err = q.Create(ctx, nil)
		if err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
				return err
			}
		}
	}
	return nil
}

type seedFile struct {
	User  string     `yaml:"user"`
	Tasks []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID        string                 `yaml:"id"`
	Title     string                 `yaml:"title"`
	Priority  string                 `yaml:"priority"`
	Category  string                 `yaml:"category"`
	DueDate   *time.Time             `yaml:"due"`
	Status    string                 `yaml:"status"`
	Checklist []domain.ChecklistItem `yaml:"checklist"`
}

type taskWriter interface {
	PutTask(ctx context.Context, userID string, task domain.Task) error
}

func seed(ctx context.Context, store taskWriter, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return 0, err
	}
	if f.User == "" {
		return 0, errors.New("seed file has no user")
	}
	for i, st := range f.Tasks {
		status, err := domain.ParseStatus(st.Status)
		if err != nil {
			return i, fmt.Errorf("task %s: %w", st.ID, err)
		}
		task := domain.Task{
			ID:        st.ID,
			Title:     st.Title,
			Priority:  domain.Priority(st.Priority),
			Category:  st.Category,
			DueDate:   st.DueDate,
			Status:    status,
			Checklist: st.Checklist,
		}
		if err := store.PutTask(ctx, f.User, task); err != nil {
			return i, fmt.Errorf("task %s: %w", st.ID, err)
		}
	}
	return len(f.Tasks), nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
