package httpapi

import (
	"crypto/subtle"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/gofiber/fiber/v2"

	"task-reminder/internal/service"
)

type testDispatchRequest struct {
	Date string `json:"date"`
	Time string `json:"time"`
}

type dispatchResponse struct {
	Date string `json:"date"`
	Time string `json:"time"`
	service.DispatchResult
}

// cronNotifications dispatches the slot of the current minute. An external
// scheduler calls it when the built-in one is off.
// GET /api/cron/notifications
func (h *handlers) cronNotifications(c *fiber.Ctx) error {
	if h.CronSecret != "" && !bearerMatches(c.Get(fiber.HeaderAuthorization), h.CronSecret) {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	date, hhmm := service.Slot(h.Now(), h.Location)
	return h.dispatch(c, date, hhmm)
}

// testNotifications dispatches an explicit slot. Disabled in production.
// POST /api/test/notifications
func (h *handlers) testNotifications(c *fiber.Ctx) error {
	if h.Production {
		return fiber.NewError(fiber.StatusForbidden, "this endpoint is only available in development")
	}

	var req testDispatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	date, hhmm := service.Slot(h.Now(), h.Location)
	if req.Date != "" {
		d, err := civil.ParseDate(req.Date)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		date = d
	}
	if req.Time != "" {
		clock, err := time.Parse("15:04", req.Time)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "time must be HH:mm")
		}
		hhmm = clock.Format("15:04")
	}
	return h.dispatch(c, date, hhmm)
}

func (h *handlers) dispatch(c *fiber.Ctx, date civil.Date, hhmm string) error {
	ctx, cancel := h.dispatchContext(c.UserContext())
	defer cancel()

	res, err := h.Dispatcher.Dispatch(ctx, date, hhmm)
	if err != nil {
		return err
	}
	h.Logger.Info("notifications dispatched",
		"date", date.String(),
		"time", hhmm,
		"email", res.EmailCount,
		"push", res.PushCount,
		"errors", len(res.Errors),
	)
	return ok(c, dispatchResponse{Date: date.String(), Time: hhmm, DispatchResult: res})
}

func bearerMatches(header, secret string) bool {
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
}
