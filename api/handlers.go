package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"tasklane/domain"
)

const (
	msgInvalidBody          = "Invalid request body"
	msgInvalidStatus        = "Invalid status value"
	msgTaskNotFound         = "Task not found"
	msgChecklistNotFound    = "Checklist item not found"
	msgUnauthorized         = "Unauthorized"
	msgStatusUpdateFailed   = "Failed to update task status"
	msgChecklistWriteFailed = "Failed to update checklist item"
	msgUnavailable          = "Storage unavailable"

	publishTimeout = 5 * time.Second
	healthTimeout  = 2 * time.Second
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, deps Deps, logger *log.Logger) {
	e.GET("/tasks", getTasks(deps, logger))
	e.GET("/task/:taskId", getTask(deps, logger))
	e.PUT("/task/update-status/:taskId", updateStatus(deps, logger))
	e.PUT("/task/update-checklist-item/:taskId/:itemId", updateChecklistItem(deps, logger))
	e.GET("/healthz", healthz(deps.Store, logger))
}

// healthz answers 503 when the store can be pinged and the ping fails.
func healthz(store Storage, logger *log.Logger) echo.HandlerFunc {
	pinger, _ := store.(Pinger)
	return func(c echo.Context) error {
		if pinger == nil {
			return c.NoContent(http.StatusOK)
		}
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			logger.WithError(err).Warn("health check failed")
			return c.JSON(http.StatusServiceUnavailable, failed(msgUnavailable))
		}
		return c.NoContent(http.StatusOK)
	}
}

// instrument starts request metrics and moves the request onto the span context.
func instrument(c echo.Context, logger *log.Logger, route string) *requestMetrics {
	metrics, ctx := newRequestMetrics(c.Request().Context(), logger, route)
	c.SetRequest(c.Request().WithContext(ctx))
	return metrics
}

func authenticate(c echo.Context, auth Authenticator, metrics *requestMetrics) (string, bool) {
	authStart := time.Now()
	userID, err := auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	metrics.ObserveAuth(time.Since(authStart))
	if err != nil {
		metrics.SetErrorStage("auth")
		return "", false
	}
	return userID, true
}

func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, maxRequestSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func getTasks(d Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := instrument(c, logger, "/tasks")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return c.JSON(http.StatusUnauthorized, failed(msgUnauthorized))
		}
		storeStart := time.Now()
		tasks, fetchErr := d.Store.ListTasks(c.Request().Context(), userID)
		metrics.ObserveStore(time.Since(storeStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			return c.JSON(http.StatusInternalServerError, failed("Failed to load tasks"))
		}
		metrics.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
	}
}

func getTask(d Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := instrument(c, logger, "/task/:taskId")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return c.JSON(http.StatusUnauthorized, failed(msgUnauthorized))
		}
		taskID := c.Param("taskId")
		metrics.SetTask(taskID)
		task, getErr := d.Store.GetTask(c.Request().Context(), userID, taskID)
		if getErr != nil {
			if errors.Is(getErr, domain.ErrTaskNotFound) {
				metrics.SetErrorStage("not_found")
				return c.JSON(http.StatusNotFound, failed(msgTaskNotFound))
			}
			metrics.SetErrorStage("storage")
			c.Logger().Error(getErr)
			return c.JSON(http.StatusInternalServerError, failed("Failed to load task"))
		}
		return c.JSON(http.StatusOK, task)
	}
}

func updateStatus(d Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := instrument(c, logger, "/task/update-status/:taskId")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		ctx := c.Request().Context()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return c.JSON(http.StatusUnauthorized, failed(msgUnauthorized))
		}
		taskID := c.Param("taskId")
		metrics.SetTask(taskID)

		var req updateStatusRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, failed(msgInvalidBody))
		}
		metrics.SetTarget(req.Status)
		status, parseErr := domain.ParseStatus(req.Status)
		if parseErr != nil {
			metrics.SetErrorStage("invalid_status")
			return c.JSON(http.StatusBadRequest, failed(msgInvalidStatus))
		}

		release, dup := claimIdempotencyKey(ctx, c, d.Deduper, logger, IdempotencyScope{UserID: userID, TaskID: taskID})
		if dup {
			metrics.SetDuplicate(true)
			return c.JSON(http.StatusOK, mutationResponse{Status: statusSuccess, Duplicate: true})
		}

		storeStart := time.Now()
		task, from, updErr := d.Store.UpdateStatus(ctx, userID, taskID, status)
		metrics.ObserveStore(time.Since(storeStart))
		if updErr != nil {
			release()
			switch {
			case errors.Is(updErr, domain.ErrTaskNotFound):
				metrics.SetErrorStage("not_found")
				return c.JSON(http.StatusBadRequest, failed(msgTaskNotFound))
			case errors.Is(updErr, domain.ErrInvalidStatus):
				metrics.SetErrorStage("invalid_status")
				return c.JSON(http.StatusBadRequest, failed(msgInvalidStatus))
			}
			metrics.SetErrorStage("storage")
			logger.WithError(updErr).WithField("task", taskID).Error("task.status.update_failed")
			return c.JSON(http.StatusInternalServerError, failed(msgStatusUpdateFailed))
		}

		changed := from != task.Status
		metrics.SetChanged(changed)
		if changed {
			emitStatusChanged(ctx, d, logger, stamper.statusChanged(userID, taskID, from, task.Status, req.Source))
		}
		return c.JSON(http.StatusOK, mutationResponse{Status: statusSuccess, Task: &task})
	}
}

func updateChecklistItem(d Deps, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics := instrument(c, logger, "/task/update-checklist-item/:taskId/:itemId")
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		ctx := c.Request().Context()

		userID, ok := authenticate(c, d.Auth, metrics)
		if !ok {
			return c.JSON(http.StatusUnauthorized, failed(msgUnauthorized))
		}
		taskID, itemID := c.Param("taskId"), c.Param("itemId")
		metrics.SetTask(taskID)

		var req updateChecklistItemRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil || req.Completed == nil {
			metrics.SetErrorStage("decode")
			return c.JSON(http.StatusBadRequest, failed(msgInvalidBody))
		}

		release, dup := claimIdempotencyKey(ctx, c, d.Deduper, logger, IdempotencyScope{UserID: userID, TaskID: taskID, ItemID: itemID})
		if dup {
			metrics.SetDuplicate(true)
			return c.JSON(http.StatusOK, mutationResponse{Status: statusSuccess, Duplicate: true})
		}

		storeStart := time.Now()
		task, setErr := d.Store.SetChecklistItem(ctx, userID, taskID, itemID, *req.Completed)
		metrics.ObserveStore(time.Since(storeStart))
		if setErr != nil {
			release()
			switch {
			case errors.Is(setErr, domain.ErrTaskNotFound):
				metrics.SetErrorStage("not_found")
				return c.JSON(http.StatusBadRequest, failed(msgTaskNotFound))
			case errors.Is(setErr, domain.ErrChecklistItemNotFound):
				metrics.SetErrorStage("not_found")
				return c.JSON(http.StatusBadRequest, failed(msgChecklistNotFound))
			}
			metrics.SetErrorStage("storage")
			logger.WithError(setErr).WithField("task", taskID).Error("task.checklist.update_failed")
			return c.JSON(http.StatusInternalServerError, failed(msgChecklistWriteFailed))
		}
		return c.JSON(http.StatusOK, mutationResponse{Status: statusSuccess, Task: &task})
	}
}

// claimIdempotencyKey records the request's Idempotency-Key. dup is true when
// the key was seen before. release forgets the key so a failed request can be
// retried. Deduper errors are logged and the request proceeds.
func claimIdempotencyKey(ctx context.Context, c echo.Context, deduper Deduper, logger *log.Logger, scope IdempotencyScope) (release func(), dup bool) {
	release = func() {}
	scope.Key = c.Request().Header.Get(headerIdempotencyKey)
	if scope.Key == "" || deduper == nil {
		return release, false
	}
	added, err := deduper.Claim(ctx, scope)
	if err != nil {
		logger.WithError(err).Warn("idempotency check failed; processing request")
		return release, false
	}
	if !added {
		return release, true
	}
	return func() {
		if err := deduper.Release(context.WithoutCancel(ctx), scope); err != nil {
			logger.WithError(err).Warn("idempotency key release failed")
		}
	}, false
}

// emitStatusChanged appends the event to the queue and publishes it. The
// status write already happened, so failures are logged only.
func emitStatusChanged(ctx context.Context, d Deps, logger *log.Logger, ev domain.StatusChangedEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	entry := logger.WithFields(log.Fields{"task": ev.TaskID, "from": ev.From, "to": ev.To, "event": ev.ID})
	if err := d.Store.AppendEvent(ctx, ev); err != nil {
		entry.WithError(err).Error("task.status.event_append_failed")
	}
	if d.Publisher != nil {
		if err := d.Publisher.Publish(ctx, ev); err != nil {
			entry.WithError(err).Warn("task.status.event_publish_failed")
		}
	}
	entry.Debug("task.status.changed")
}
