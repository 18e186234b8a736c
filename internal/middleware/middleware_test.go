package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashmitsharp/accountant-api/internal/logger"
)

func staticVerifier(valid string) TokenVerifier {
	return func(ctx context.Context, token string) (string, error) {
		if token != valid {
			return "", errors.New("bad token")
		}
		return "user_abc", nil
	}
}

func TestClerkAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/me", ClerkAuth(staticVerifier("good")), func(c fiber.Ctx) error {
		return c.SendString(c.Locals("user_id").(string))
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", fiber.StatusUnauthorized},
		{"not a bearer token", "Basic abc", fiber.StatusUnauthorized},
		{"empty bearer token", "Bearer ", fiber.StatusUnauthorized},
		{"rejected token", "Bearer bad", fiber.StatusUnauthorized},
		{"valid token", "Bearer good", fiber.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestBearerSecret(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		header string
		status int
	}{
		{"matching secret", "s3cret", "Bearer s3cret", fiber.StatusOK},
		{"wrong secret", "s3cret", "Bearer nope", fiber.StatusUnauthorized},
		{"missing header", "s3cret", "", fiber.StatusUnauthorized},
		{"unconfigured secret rejects everything", "", "Bearer ", fiber.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/cron", BearerSecret(tt.secret), func(c fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			req := httptest.NewRequest("GET", "/cron", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	app := fiber.New()
	app.Use(RequestLogger(log))
	app.Get("/ping", func(c fiber.Ctx) error {
		reqLog := logger.FromContext(c.Context())
		reqLog.Info().Msg("inside handler")
		return c.SendString("pong")
	})

	t.Run("generates request id", func(t *testing.T) {
		buf.Reset()
		resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Contains(t, buf.String(), `"message":"inside handler"`)
		assert.Contains(t, buf.String(), `"path":"/ping"`)
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		buf.Reset()
		req := httptest.NewRequest("GET", "/ping", nil)
		req.Header.Set("X-Request-ID", "req-42")
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, "req-42", resp.Header.Get("X-Request-ID"))
		assert.Contains(t, buf.String(), `"request_id":"req-42"`)
	})
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	app := fiber.New()
	app.Use(Recover(log))
	app.Get("/boom", func(c fiber.Ctx) error {
		panic("kaboom")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, buf.String(), "kaboom")
}
