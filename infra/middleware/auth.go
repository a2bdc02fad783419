package middleware

import (
	"fmt"
	"strings"
	"time"

	"caseroute/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Locals keys set by JWTAuth.
const (
	LocalPrincipalID = "principal_id"
	LocalFirmID      = "firm_id"
	LocalClaims      = "claims"
)

// JWTAuth validates HS256 bearer tokens and extracts the principal and firm
// identity into request locals. Every authenticated route is firm scoped.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == "OPTIONS" {
			return c.Next()
		}

		var tokenString string
		authHeader := c.Get("Authorization")
		if authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return c.Status(401).JSON(fiber.Map{"error": "missing authorization"})
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		})
		if err != nil {
			logger.WithError(err).Warn("JWT validation failed")
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}
		if !token.Valid {
			return c.Status(401).JSON(fiber.Map{"error": "invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "invalid claims"})
		}

		if exp, ok := claims["exp"].(float64); ok {
			if time.Now().Unix() > int64(exp) {
				return c.Status(401).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
		}

		principalStr, ok := claims["sub"].(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "missing principal id in token"})
		}
		principalID, err := uuid.Parse(principalStr)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid principal id format"})
		}

		firmStr, ok := claims["firm_id"].(string)
		if !ok {
			return c.Status(401).JSON(fiber.Map{"error": "missing firm id in token"})
		}
		firmID, err := uuid.Parse(firmStr)
		if err != nil {
			return c.Status(401).JSON(fiber.Map{"error": "invalid firm id format"})
		}

		c.Locals(LocalPrincipalID, principalID)
		c.Locals(LocalFirmID, firmID)
		c.Locals(LocalClaims, claims)

		return c.Next()
	}
}

// PrincipalID returns the authenticated principal from request locals.
func PrincipalID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(LocalPrincipalID).(uuid.UUID)
	return id, ok
}

// FirmID returns the authenticated firm from request locals.
func FirmID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(LocalFirmID).(uuid.UUID)
	return id, ok
}
