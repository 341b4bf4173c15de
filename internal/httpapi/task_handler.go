package httpapi

import (
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/gofiber/fiber/v2"

	"task-reminder/internal/service"
)

type completionRequest struct {
	TaskID    uint   `json:"task_id"`
	Date      string `json:"date"`
	Completed bool   `json:"completed"`
}

// listTasks returns the day view for ?date=, today when omitted.
// GET /api/tasks
func (h *handlers) listTasks(c *fiber.Ctx) error {
	date, err := h.dateQuery(c, "date")
	if err != nil {
		return err
	}
	view, err := h.Occurrences.DayView(c.UserContext(), userID(c), date)
	if err != nil {
		return err
	}
	return ok(c, view)
}

// POST /api/tasks
func (h *handlers) createTask(c *fiber.Ctx) error {
	var input service.TaskInput
	if err := c.BodyParser(&input); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	task, err := h.Tasks.Create(c.UserContext(), userID(c), input)
	if err != nil {
		return err
	}
	detail, err := h.Tasks.Get(c.UserContext(), userID(c), task.ID)
	if err != nil {
		return err
	}
	return created(c, detail)
}

// GET /api/tasks/:id
func (h *handlers) getTask(c *fiber.Ctx) error {
	id, err := taskIDParam(c)
	if err != nil {
		return err
	}
	detail, err := h.Tasks.Get(c.UserContext(), userID(c), id)
	if err != nil {
		return err
	}
	return ok(c, detail)
}

// PUT /api/tasks/:id
func (h *handlers) updateTask(c *fiber.Ctx) error {
	id, err := taskIDParam(c)
	if err != nil {
		return err
	}
	var input service.TaskInput
	if err := c.BodyParser(&input); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if _, err := h.Tasks.Update(c.UserContext(), userID(c), id, input); err != nil {
		return err
	}
	detail, err := h.Tasks.Get(c.UserContext(), userID(c), id)
	if err != nil {
		return err
	}
	return ok(c, detail)
}

// deleteTask removes a task. Recurring tasks accept ?mode=this_only|future_all&date=.
// DELETE /api/tasks/:id
func (h *handlers) deleteTask(c *fiber.Ctx) error {
	id, err := taskIDParam(c)
	if err != nil {
		return err
	}
	mode, err := service.ParseDeleteMode(c.Query("mode"))
	if err != nil {
		return err
	}

	var date *civil.Date
	if raw := c.Query("date"); raw != "" {
		d, err := civil.ParseDate(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
		}
		date = &d
	}

	if err := h.Tasks.Delete(c.UserContext(), userID(c), id, mode, date); err != nil {
		return err
	}
	return ok(c, fiber.Map{"deleted": true})
}

// POST /api/tasks/completion
func (h *handlers) setCompletion(c *fiber.Ctx) error {
	var req completionRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.TaskID == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "task_id is required")
	}
	date, err := civil.ParseDate(req.Date)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	if err := h.Tasks.SetCompletion(c.UserContext(), userID(c), req.TaskID, date, req.Completed); err != nil {
		return err
	}
	return ok(c, req)
}

// GET /api/tasks/search?q=
func (h *handlers) searchTasks(c *fiber.Ctx) error {
	results, err := h.Tasks.Search(c.UserContext(), userID(c), c.Query("q"), civil.DateOf(h.today()))
	if err != nil {
		return err
	}
	return ok(c, results)
}

func taskIDParam(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid task id")
	}
	return uint(id), nil
}

func (h *handlers) dateQuery(c *fiber.Ctx, key string) (civil.Date, error) {
	raw := c.Query(key)
	if raw == "" {
		return civil.DateOf(h.today()), nil
	}
	d, err := civil.ParseDate(raw)
	if err != nil {
		return civil.Date{}, fiber.NewError(fiber.StatusBadRequest, key+" must be YYYY-MM-DD")
	}
	return d, nil
}
