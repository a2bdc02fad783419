package http

import (
	"strconv"

	"caseroute/infra/middleware"
	"caseroute/pkg/apperr"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// parseID parses a path parameter as a positive int64.
func parseID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidInput(name, "must be a positive id")
	}
	return id, nil
}

// actor returns the authenticated principal or an auth error.
func actor(c *fiber.Ctx) (uuid.UUID, error) {
	id, ok := middleware.PrincipalID(c)
	if !ok {
		return uuid.Nil, apperr.Unauthorized("")
	}
	return id, nil
}

// identity returns the authenticated firm and principal.
func identity(c *fiber.Ctx) (firmID, principalID uuid.UUID, err error) {
	firmID, ok := middleware.FirmID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.Unauthorized("")
	}
	principalID, ok = middleware.PrincipalID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, apperr.Unauthorized("")
	}
	return firmID, principalID, nil
}
