package middleware

import (
	"context"
	"strings"

	clerk "github.com/clerk/clerk-sdk-go/v2"
	"github.com/clerk/clerk-sdk-go/v2/jwt"
	"github.com/gofiber/fiber/v3"

	"github.com/ashmitsharp/accountant-api/internal/logger"
)

// TokenVerifier resolves a session token to the id of the user it was issued to
type TokenVerifier func(ctx context.Context, token string) (string, error)

// ClerkVerifier verifies session tokens with Clerk
func ClerkVerifier(secretKey string) TokenVerifier {
	clerk.SetKey(secretKey)

	return func(ctx context.Context, token string) (string, error) {
		claims, err := jwt.Verify(ctx, &jwt.VerifyParams{
			Token: token,
		})
		if err != nil {
			return "", err
		}
		return claims.Subject, nil
	}
}

// ClerkAuth middleware validates bearer tokens and stores the user id in
// c.Locals("user_id")
func ClerkAuth(verify TokenVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization token",
			})
		}

		// Remove "Bearer " prefix
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		userID, err := verify(c.Context(), token)
		if err != nil || userID == "" {
			log := logger.FromContext(c.Context())
			log.Debug().Err(err).Msg("token verification failed")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals("user_id", userID)

		// Later log lines carry the user
		log := logger.FromContext(c.Context()).With().Str("user_id", userID).Logger()
		c.SetContext(logger.WithContext(c.Context(), log))

		return c.Next()
	}
}
