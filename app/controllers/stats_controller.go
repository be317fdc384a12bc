package controllers

import (
	"time"

	"github.com/ManuelReschke/PayFox/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// StatsController exposes the daily operational counters.
type StatsController struct {
	counter counter.Counter
}

func NewStatsController(c counter.Counter) *StatsController {
	return &StatsController{counter: c}
}

// HandleDailyStats returns the counters of ?day=YYYY-MM-DD, today by default.
func (sc *StatsController) HandleDailyStats(c *fiber.Ctx) error {
	day := time.Now().UTC()
	if raw := c.Query("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "invalid_day", "day must be formatted as YYYY-MM-DD")
		}
		day = parsed
	}
	counts, err := sc.counter.Snapshot(c.UserContext(), day)
	if err != nil {
		log.Errorf("[Stats] Snapshot failed: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "stats_unavailable", "counters could not be read")
	}
	return c.JSON(fiber.Map{
		"day":      day.Format("2006-01-02"),
		"counters": counts,
	})
}
