package routes

import (
	"os"

	"github.com/gofiber/fiber/v2"

	"github.com/callpilot-ai/callpilot-backend/internal/handlers"
	"github.com/callpilot-ai/callpilot-backend/internal/middleware"
)

// Handlers bundles everything SetupRoutes needs to wire
type Handlers struct {
	Health    *handlers.HealthHandler
	Calls     *handlers.CallHandler
	Operators *handlers.OperatorHandler
	Voice     *handlers.VoiceHandler
	Status    *handlers.StatusHandler
	Media     *handlers.MediaHandler
}

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, h Handlers) {

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Welcome to CallPilot Backend!",
			"version": "1.0.0",
			"endpoints": fiber.Map{
				"health":  "/health",
				"api":     "/api",
				"webhook": "/webhook",
				"stream":  "/media-stream",
			},
		})
	})

	app.Get("/health", h.Health.Check)

	// ========== API ROUTES ==========
	api := app.Group("/api")

	calls := api.Group("/calls")
	calls.Post("/", h.Calls.InitiateCall)
	calls.Get("/:callID", h.Calls.GetCall)
	calls.Get("/:callID/conversation", h.Calls.GetConversationLog)
	calls.Post("/:callID/cancel", h.Calls.CancelCall)
	calls.Post("/:callID/handoff", h.Calls.RequestHandoff)

	operators := api.Group("/operators")
	operators.Post("/", h.Operators.RegisterOperator)
	operators.Get("/:operatorID", h.Operators.GetOperator)
	operators.Patch("/:operatorID/availability", h.Operators.SetAvailability)

	// ========== WEBHOOK ROUTES ==========
	webhooks := app.Group("/webhook")

	// ENVIRONMENT-AWARE VALIDATION
	if os.Getenv("ENVIRONMENT") == "development" || os.Getenv("DISABLE_WEBHOOK_VALIDATION") == "true" {
		// Development: Skip validation for ngrok
		if os.Getenv("ENVIRONMENT") == "development" {
			println("⚠️  Twilio webhook validation DISABLED for development")
		}
	} else {
		// Production: Validate webhook signatures
		webhooks.Use(middleware.ValidateTwilioSignature())
	}

	webhooks.Post("/voice", h.Voice.Answer)
	webhooks.Post("/speech", h.Voice.Speech)
	webhooks.Post("/call-status", h.Status.CallStatus)
	webhooks.Post("/operator-status", h.Status.OperatorStatus)
	webhooks.Post("/operator-connect", h.Status.OperatorConnect)
	webhooks.Post("/dial-result", h.Status.DialResult)

	// ========== MEDIA STREAM ==========
	app.Use("/media-stream", h.Media.Upgrade)
	app.Get("/media-stream", h.Media.Stream())
}
