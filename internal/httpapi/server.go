// Package httpapi exposes the reminder services as a JSON API. Callers are
// authenticated upstream; the proxy passes the user id in X-User-ID.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"task-reminder/internal/repository"
	"task-reminder/internal/service"
)

const (
	userIDHeader    = "X-User-ID"
	requestIDHeader = "X-Request-ID"

	localUserID    = "user_id"
	localRequestID = "request_id"
)

// Deps holds everything the handlers call into.
type Deps struct {
	Users       *repository.UserRepository
	Tasks       *service.TaskService
	Occurrences *service.OccurrenceService
	Settings    *service.SettingsService
	Dispatcher  service.Dispatcher

	Location        *time.Location
	CronSecret      string
	Production      bool
	DispatchTimeout time.Duration
	// Now defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger
}

type handlers struct {
	Deps
}

// New builds the fiber app with every route registered.
func New(deps Deps) *fiber.App {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.DispatchTimeout <= 0 {
		deps.DispatchTimeout = 50 * time.Second
	}
	h := &handlers{Deps: deps}

	app := fiber.New(fiber.Config{
		ErrorHandler:          errorHandler(deps.Logger),
		AppName:               "task-reminder",
		DisableStartupMessage: true,
	})
	app.Use(requestID())
	app.Use(requestLogger(deps.Logger))

	api := app.Group("/api")

	cron := api.Group("/cron")
	cron.Get("/notifications", h.cronNotifications)

	test := api.Group("/test")
	test.Post("/notifications", h.testNotifications)

	tasks := api.Group("/tasks", h.requireUser)
	tasks.Get("/", h.listTasks)
	tasks.Post("/", h.createTask)
	tasks.Get("/search", h.searchTasks)
	tasks.Post("/completion", h.setCompletion)
	tasks.Get("/:id", h.getTask)
	tasks.Put("/:id", h.updateTask)
	tasks.Delete("/:id", h.deleteTask)

	settings := api.Group("/settings", h.requireUser)
	settings.Get("/notifications", h.getSettings)
	settings.Put("/notifications", h.updateSettings)

	push := api.Group("/push", h.requireUser)
	push.Post("/subscribe", h.subscribe)
	push.Post("/unsubscribe", h.unsubscribe)

	return app
}

type response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorInfo `json:"error,omitempty"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeBadRequest   = "BAD_REQUEST"
	errCodeUnauthorized = "UNAUTHORIZED"
	errCodeForbidden    = "FORBIDDEN"
	errCodeNotFound     = "NOT_FOUND"
	errCodeInternal     = "INTERNAL_ERROR"
)

func ok(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusOK).JSON(response{Success: true, Data: data})
}

func created(c *fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(response{Success: true, Data: data})
}

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(response{Error: &errorInfo{Code: code, Message: message}})
}

// errorHandler maps service errors to status codes. Internal details stay in the log.
func errorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			return errorResponse(c, fiber.StatusBadRequest, errCodeBadRequest, err.Error())
		case errors.Is(err, service.ErrTaskNotFound):
			return errorResponse(c, fiber.StatusNotFound, errCodeNotFound, "task not found")
		case errors.As(err, &fe):
			code := errCodeInternal
			switch fe.Code {
			case fiber.StatusBadRequest:
				code = errCodeBadRequest
			case fiber.StatusUnauthorized:
				code = errCodeUnauthorized
			case fiber.StatusForbidden:
				code = errCodeForbidden
			case fiber.StatusNotFound:
				code = errCodeNotFound
			}
			return errorResponse(c, fe.Code, code, fe.Message)
		}

		log.ErrorContext(c.UserContext(), "request failed",
			"method", c.Method(),
			"path", c.Path(),
			"request_id", c.Locals(localRequestID),
			"err", err,
		)
		return errorResponse(c, fiber.StatusInternalServerError, errCodeInternal, "internal server error")
	}
}

func requestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Locals(localRequestID, id)
		return c.Next()
	}
}

func requestLogger(log *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		if err != nil {
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		log.Log(c.UserContext(), level, "request completed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"latency", time.Since(start).String(),
			"request_id", c.Locals(localRequestID),
		)
		return nil
	}
}

// requireUser resolves X-User-ID and makes sure the user row exists.
func (h *handlers) requireUser(c *fiber.Ctx) error {
	raw := c.Get(userIDHeader)
	id, err := strconv.ParseUint(raw, 10, 64)
	if raw == "" || err != nil || id == 0 {
		return fiber.NewError(fiber.StatusUnauthorized, "missing or invalid "+userIDHeader)
	}
	if _, err := h.Users.EnsureByID(c.UserContext(), uint(id)); err != nil {
		return err
	}
	c.Locals(localUserID, uint(id))
	return c.Next()
}

func userID(c *fiber.Ctx) uint {
	id, _ := c.Locals(localUserID).(uint)
	return id
}

func (h *handlers) today() time.Time {
	return h.Now().In(h.Location)
}

func (h *handlers) dispatchContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, h.DispatchTimeout)
}
