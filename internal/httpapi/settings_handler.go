package httpapi

import (
	"github.com/gofiber/fiber/v2"

	"task-reminder/internal/service"
)

// subscribeRequest mirrors PushSubscription.toJSON() from the browser.
type subscribeRequest struct {
	Subscription *struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
}

// GET /api/settings/notifications
func (h *handlers) getSettings(c *fiber.Ctx) error {
	view, err := h.Settings.Get(c.UserContext(), userID(c))
	if err != nil {
		return err
	}
	return ok(c, view)
}

// PUT /api/settings/notifications
func (h *handlers) updateSettings(c *fiber.Ctx) error {
	var input service.SettingsInput
	if err := c.BodyParser(&input); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	view, err := h.Settings.Update(c.UserContext(), userID(c), input)
	if err != nil {
		return err
	}
	return ok(c, view)
}

// POST /api/push/subscribe
func (h *handlers) subscribe(c *fiber.Ctx) error {
	var req subscribeRequest
	if err := c.BodyParser(&req); err != nil || req.Subscription == nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid subscription data")
	}
	input := service.SubscriptionInput{
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	}
	if err := h.Settings.Subscribe(c.UserContext(), userID(c), input); err != nil {
		return err
	}
	return ok(c, fiber.Map{"subscribed": true})
}

// POST /api/push/unsubscribe
func (h *handlers) unsubscribe(c *fiber.Ctx) error {
	if err := h.Settings.Unsubscribe(c.UserContext(), userID(c)); err != nil {
		return err
	}
	return ok(c, fiber.Map{"subscribed": false})
}
