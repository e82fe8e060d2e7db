package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"tasklane/domain"
	"tasklane/storage"
)

type mockStore struct {
	mu        sync.Mutex
	tasks     map[string]domain.Task
	writes    int
	events    []domain.StatusChangedEvent
	updateErr error
	pingErr   error
}

// the production stores must satisfy the handlers' interfaces
var (
	_ Storage = (*storage.Storage)(nil)
	_ Storage = (*storage.Cache)(nil)
	_ Pinger  = (*storage.Cache)(nil)
)

func newMockStore(tasks ...domain.Task) *mockStore {
	m := &mockStore{tasks: map[string]domain.Task{}}
	for _, t := range tasks {
		m.tasks[t.ID] = t
	}
	return m
}

func (m *mockStore) GetTask(ctx context.Context, userID, taskID string) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Deleted {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, nil
}

func (m *mockStore) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if !t.Deleted {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateStatus(ctx context.Context, userID, taskID string, status domain.Status) (domain.Task, domain.Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return domain.Task{}, "", m.updateErr
	}
	t, ok := m.tasks[taskID]
	if !ok || t.Deleted {
		return domain.Task{}, "", domain.ErrTaskNotFound
	}
	from := t.Status
	if from == status {
		return t, from, nil
	}
	t.Status = status
	m.tasks[taskID] = t
	m.writes++
	return t, from, nil
}

func (m *mockStore) SetChecklistItem(ctx context.Context, userID, taskID, itemID string, completed bool) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.Deleted {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	t.Checklist = append([]domain.ChecklistItem(nil), t.Checklist...)
	item, ok := t.ChecklistItem(itemID)
	if !ok {
		return domain.Task{}, domain.ErrChecklistItemNotFound
	}
	item.Completed = completed
	m.tasks[taskID] = t
	m.writes++
	return t, nil
}

func (m *mockStore) AppendEvent(ctx context.Context, ev domain.StatusChangedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	if h == "" {
		return "", errMissingAuthorization
	}
	return "user", nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.StatusChangedEvent
	err    error
}

func (p *mockPublisher) Publish(ctx context.Context, ev domain.StatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func todoTask() domain.Task {
	return domain.Task{
		ID:        "t1",
		Title:     "Write report",
		Status:    domain.StatusTodo,
		Checklist: []domain.ChecklistItem{{ID: "c1", Text: "outline"}},
	}
}

type testServer struct {
	e     *echo.Echo
	store *mockStore
	pub   *mockPublisher
	hook  *test.Hook
}

func newTestServer(t *testing.T, deduper Deduper, tasks ...domain.Task) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)
	s := &testServer{e: echo.New(), store: newMockStore(tasks...), pub: &mockPublisher{}, hook: hook}
	Register(s.e, Deps{Store: s.store, Auth: mockAuth{}, Deduper: deduper, Publisher: s.pub}, logger)
	return s
}

func (s *testServer) do(method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, mutationResponse) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	var resp mutationResponse
	_ = sonic.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func TestUpdateStatusSuccess(t *testing.T) {
	s := newTestServer(t, nil, todoTask())

	rec, resp := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"completed","source":"swipe"}`, nil)
	if rec.Code != http.StatusOK || resp.Status != statusSuccess {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if resp.Task == nil || resp.Task.Status != domain.StatusCompleted {
		t.Fatalf("expected updated task in response, got %#v", resp.Task)
	}
	if len(s.store.events) != 1 || len(s.pub.events) != 1 {
		t.Fatalf("expected one appended and one published event, got %d/%d", len(s.store.events), len(s.pub.events))
	}
	ev := s.store.events[0]
	if ev.From != domain.StatusTodo || ev.To != domain.StatusCompleted || ev.Source != domain.SourceSwipe || ev.UserID != "user" || ev.Type != domain.StatusChangedEventType {
		t.Fatalf("unexpected event %#v", ev)
	}
}

func TestUpdateStatusInvalidStatus(t *testing.T) {
	s := newTestServer(t, nil, todoTask())

	for _, body := range []string{`{"status":"done"}`, `{"status":""}`, `{"status":"Todo"}`} {
		rec, resp := s.do(http.MethodPut, "/task/update-status/t1", body, nil)
		if rec.Code != http.StatusBadRequest || resp.Status != statusFailed || resp.Message != msgInvalidStatus {
			t.Fatalf("%s: unexpected response %d %s", body, rec.Code, rec.Body.String())
		}
	}
	if s.store.writes != 0 {
		t.Fatalf("invalid status must not write")
	}
}

func TestUpdateStatusUnknownOrDeletedTask(t *testing.T) {
	deleted := todoTask()
	deleted.ID = "gone"
	deleted.Deleted = true
	s := newTestServer(t, nil, deleted)

	for _, id := range []string{"missing", "gone"} {
		rec, resp := s.do(http.MethodPut, "/task/update-status/"+id, `{"status":"todo"}`, nil)
		if rec.Code != http.StatusBadRequest || resp.Status != statusFailed || resp.Message != msgTaskNotFound {
			t.Fatalf("%s: unexpected response %d %s", id, rec.Code, rec.Body.String())
		}
	}
}

func TestUpdateStatusSameStatusIsNoop(t *testing.T) {
	s := newTestServer(t, nil, todoTask())

	rec, resp := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"todo"}`, nil)
	if rec.Code != http.StatusOK || resp.Status != statusSuccess {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if s.store.writes != 0 || len(s.store.events) != 0 || len(s.pub.events) != 0 {
		t.Fatalf("same status must not write or emit events")
	}
}

func TestUpdateStatusBadBody(t *testing.T) {
	s := newTestServer(t, nil, todoTask())
	for _, body := range []string{`not json`, `{"status":"todo","extra":1}`} {
		rec, resp := s.do(http.MethodPut, "/task/update-status/t1", body, nil)
		if rec.Code != http.StatusBadRequest || resp.Message != msgInvalidBody {
			t.Fatalf("%s: unexpected response %d %s", body, rec.Code, rec.Body.String())
		}
	}
}

func TestUpdateStatusUnauthorized(t *testing.T) {
	s := newTestServer(t, nil, todoTask())
	req := httptest.NewRequest(http.MethodPut, "/task/update-status/t1", strings.NewReader(`{"status":"todo"}`))
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUpdateStatusStorageFailure(t *testing.T) {
	s := newTestServer(t, nil, todoTask())
	s.store.updateErr = errors.New("table unavailable")

	rec, resp := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"completed"}`, nil)
	if rec.Code != http.StatusInternalServerError || resp.Status != statusFailed {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	found := false
	for _, e := range s.hook.AllEntries() {
		if e.Message == "task.status.update_failed" && e.Level == log.ErrorLevel {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected storage failure to be logged")
	}
}

func TestUpdateStatusIdempotencyKey(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := newTestServer(t, NewRedisDeduper(client, time.Minute), todoTask())
	headers := map[string]string{headerIdempotencyKey: "k1"}

	if rec, _ := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"completed"}`, headers); rec.Code != http.StatusOK {
		t.Fatalf("first request failed: %d", rec.Code)
	}
	rec, resp := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"completed"}`, headers)
	if rec.Code != http.StatusOK || !resp.Duplicate {
		t.Fatalf("expected duplicate response, got %d %s", rec.Code, rec.Body.String())
	}
	if len(s.store.events) != 1 {
		t.Fatalf("duplicate must not emit a second event")
	}

	// a failed request releases its key so the retry is applied
	s.store.updateErr = errors.New("boom")
	retry := map[string]string{headerIdempotencyKey: "k2"}
	if rec, _ := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"backlog"}`, retry); rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected failure, got %d", rec.Code)
	}
	s.store.updateErr = nil
	rec, resp = s.do(http.MethodPut, "/task/update-status/t1", `{"status":"backlog"}`, retry)
	if rec.Code != http.StatusOK || resp.Duplicate {
		t.Fatalf("retry after failure must be applied, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateStatusPublishFailureStillSucceeds(t *testing.T) {
	s := newTestServer(t, nil, todoTask())
	s.pub.err = errors.New("redis down")

	rec, resp := s.do(http.MethodPut, "/task/update-status/t1", `{"status":"inprogress"}`, nil)
	if rec.Code != http.StatusOK || resp.Status != statusSuccess {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestUpdateChecklistItem(t *testing.T) {
	s := newTestServer(t, nil, todoTask())

	rec, resp := s.do(http.MethodPut, "/task/update-checklist-item/t1/c1", `{"completed":true}`, nil)
	if rec.Code != http.StatusOK || resp.Status != statusSuccess {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	if resp.Task == nil || !resp.Task.Checklist[0].Completed {
		t.Fatalf("expected completed item in response: %#v", resp.Task)
	}
	if resp.Task.Status != domain.StatusTodo {
		t.Fatalf("checklist endpoint must not change the status")
	}

	rec, resp = s.do(http.MethodPut, "/task/update-checklist-item/t1/zz", `{"completed":true}`, nil)
	if rec.Code != http.StatusBadRequest || resp.Message != msgChecklistNotFound {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = s.do(http.MethodPut, "/task/update-checklist-item/t1/c1", `{}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing completed flag must be rejected, got %d", rec.Code)
	}
}

func TestGetTasksAndTask(t *testing.T) {
	deleted := todoTask()
	deleted.ID = "gone"
	deleted.Deleted = true
	s := newTestServer(t, nil, todoTask(), deleted)

	req := httptest.NewRequest(http.MethodGet, "/tasks", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	var list tasksResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %#v", list.Tasks)
	}

	req = httptest.NewRequest(http.MethodGet, "/task/gone", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer a.b.c")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted task must be hidden, got %d", rec.Code)
	}
}

func TestGetTaskHandlerDirect(t *testing.T) {
	e := echo.New()
	store := newMockStore(todoTask())
	req := httptest.NewRequest(http.MethodGet, "/task/t1", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("taskId")
	c.SetParamValues("t1")

	if err := getTask(Deps{Store: store, Auth: mockAuth{}}, log.New())(c); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	var task domain.Task
	if err := sonic.Unmarshal(rec.Body.Bytes(), &task); err != nil || task.ID != "t1" {
		t.Fatalf("unexpected task %s (%v)", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	s.store.mu.Lock()
	s.store.pingErr = errors.New("table unreachable")
	s.store.mu.Unlock()
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the store ping fails, got %d", rec.Code)
	}
	var resp mutationResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Status != statusFailed || resp.Message != msgUnavailable {
		t.Fatalf("unexpected body %s (%v)", rec.Body.String(), err)
	}
	if entry := s.hook.LastEntry(); entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected warn log for failed health check, got %#v", entry)
	}
}
