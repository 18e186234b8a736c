package middleware

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
)

// CORS returns a configured CORS middleware. The frontend origin is always
// allowed alongside local development hosts.
func CORS(frontendOrigin string) fiber.Handler {
	origins := []string{
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
	if frontendOrigin != "" && frontendOrigin != origins[0] && frontendOrigin != origins[1] {
		origins = append(origins, frontendOrigin)
	}

	return cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			"X-Request-ID",
		},
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
		},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
	})
}
