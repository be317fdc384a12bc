package controllers

import (
	"context"
	"errors"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/middleware"
	"github.com/ManuelReschke/PayFox/internal/pkg/payout"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// PayoutService runs and retries affiliate payouts.
type PayoutService interface {
	RunScheduledPayouts(ctx context.Context) (*payout.Summary, error)
	PayAffiliate(ctx context.Context, affiliateID uint, force bool) (*models.Payout, error)
	RetryFailedPayout(ctx context.Context, payoutID string) (*models.Payout, error)
}

// PayAffiliateRequest is the body of POST /payouts/affiliates/:id.
type PayAffiliateRequest struct {
	Force  bool   `json:"force"`
	Reason string `json:"reason" validate:"required_if=Force true,max=255"`
}

// PayoutController exposes payout operations to operators.
type PayoutController struct {
	payouts PayoutService
}

func NewPayoutController(payouts PayoutService) *PayoutController {
	return &PayoutController{payouts: payouts}
}

// HandleRunScheduled triggers a scheduled run now. The summary is returned
// even when the run stopped early.
func (pc *PayoutController) HandleRunScheduled(c *fiber.Ctx) error {
	log.Infof("[Payout] Manual run requested by %s", middleware.Operator(c))
	summary, err := pc.payouts.RunScheduledPayouts(c.UserContext())
	switch {
	case errors.Is(err, payout.ErrRunInProgress):
		return errorResponse(c, fiber.StatusConflict, "run_in_progress", err.Error())
	case err != nil:
		log.Errorf("[Payout] Manual run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "run_failed",
			"message": err.Error(),
			"summary": summary,
		})
	}
	return c.JSON(summary)
}

// HandlePayAffiliate pays one affiliate. Forced payouts bypass eligibility
// and fraud screening and must carry a reason.
func (pc *PayoutController) HandlePayAffiliate(c *fiber.Ctx) error {
	id, ok := paramUint(c, "id")
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "invalid affiliate id")
	}

	var req PayAffiliateRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return errorResponse(c, fiber.StatusBadRequest, "bad_request", "invalid request body")
		}
	}
	if err := validate.Struct(req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	}
	if req.Force {
		log.Warnf("[Payout] %s forced payout for affiliate %d: %s", middleware.Operator(c), id, req.Reason)
	}

	p, err := pc.payouts.PayAffiliate(c.UserContext(), id, req.Force)
	if err != nil {
		return pc.handleError(c, p, err)
	}
	return c.Status(fiber.StatusCreated).JSON(p)
}

// HandleRetry re-attempts a failed payout.
func (pc *PayoutController) HandleRetry(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "payout id missing")
	}

	log.Infof("[Payout] %s retries payout %s", middleware.Operator(c), id)
	p, err := pc.payouts.RetryFailedPayout(c.UserContext(), id)
	if err != nil {
		return pc.handleError(c, p, err)
	}
	return c.JSON(p)
}

func (pc *PayoutController) handleError(c *fiber.Ctx, p *models.Payout, err error) error {
	var eligibility *payout.EligibilityError
	var transfer *payout.ProviderTransferError
	switch {
	case errors.As(err, &eligibility):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":   "not_eligible",
			"message": eligibility.Reason,
			"details": eligibility.Details,
		})
	case errors.Is(err, gorm.ErrRecordNotFound):
		return errorResponse(c, fiber.StatusNotFound, "not_found", "not found")
	case errors.Is(err, payout.ErrNotRetryable):
		return errorResponse(c, fiber.StatusConflict, "not_retryable", err.Error())
	case errors.As(err, &transfer):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "transfer_failed",
			"message": transfer.Error(),
			"payout":  p,
		})
	default:
		log.Errorf("[Payout] Operation failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "payout_failed",
			"message": err.Error(),
			"payout":  p,
		})
	}
}
