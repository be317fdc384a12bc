package controllers

import (
	"context"

	"github.com/ManuelReschke/PayFox/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// PlanResolver answers which plan an owner is entitled to.
type PlanResolver interface {
	Resolve(ctx context.Context, ownerID uint) (entitlements.Plan, error)
}

type EntitlementController struct {
	resolver PlanResolver
}

func NewEntitlementController(resolver PlanResolver) *EntitlementController {
	return &EntitlementController{resolver: resolver}
}

// HandleGetEntitlements returns the effective plan and features of an owner.
func (ec *EntitlementController) HandleGetEntitlements(c *fiber.Ctx) error {
	ownerID, ok := paramUint(c, "ownerId")
	if !ok {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "invalid owner id")
	}

	plan, err := ec.resolver.Resolve(c.UserContext(), ownerID)
	if err != nil {
		log.Errorf("[Entitlements] Resolve owner %d failed: %v", ownerID, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "could not resolve entitlements")
	}
	return c.JSON(fiber.Map{
		"owner_id": ownerID,
		"plan":     plan,
		"features": entitlements.Allowed(plan),
	})
}
