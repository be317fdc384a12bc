package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleOperator is the only role admitted to the operator API.
	RoleOperator = "operator"
	// KeyOperator is the Locals key holding the authenticated operator name.
	KeyOperator = "OPERATOR"

	tokenIssuer = "payfox"
)

// OperatorClaims are carried by operator bearer tokens.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SignOperatorToken issues an HS256 token for operator, valid for ttl.
func SignOperatorToken(secret, operator string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("operator jwt secret is required")
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, OperatorClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   operator,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}

// ParseOperatorToken validates raw and returns its claims.
func ParseOperatorToken(secret, raw string) (*OperatorClaims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &OperatorClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithLeeway(30*time.Second))
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*OperatorClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}

// OperatorAuth admits requests carrying a valid operator bearer token.
func OperatorAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := extractBearerToken(c)
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		claims, err := ParseOperatorToken(secret, raw)
		if err != nil {
			log.Debugf("[OperatorAuth] Rejected token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
		}
		if claims.Role != RoleOperator {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Operator role required"})
		}

		c.Locals(KeyOperator, claims.Subject)
		return c.Next()
	}
}

// Operator returns the authenticated operator name, or "" outside the
// operator API.
func Operator(c *fiber.Ctx) string {
	name, _ := c.Locals(KeyOperator).(string)
	return name
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
