package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/callpilot-ai/callpilot-backend/database"
	"github.com/callpilot-ai/callpilot-backend/internal/handlers"
	"github.com/callpilot-ai/callpilot-backend/internal/jobs"
	"github.com/callpilot-ai/callpilot-backend/internal/models"
	"github.com/callpilot-ai/callpilot-backend/internal/routes"
	"github.com/callpilot-ai/callpilot-backend/internal/services"
	"github.com/callpilot-ai/callpilot-backend/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		err := godotenv.Load(".env")
		if err != nil {
			err = godotenv.Load("environments/.env.development")
			if err != nil {
				log.Println("⚠️  No .env file found - checking environment variables")
			}
		}

		// Debug what we loaded
		log.Printf("🔍 TWILIO_ACCOUNT_SID exists: %v", os.Getenv("TWILIO_ACCOUNT_SID") != "")
		log.Printf("🔍 TWILIO_AUTH_TOKEN exists: %v", os.Getenv("TWILIO_AUTH_TOKEN") != "")
		log.Printf("🔍 PUBLIC_BASE_URL: %s", os.Getenv("PUBLIC_BASE_URL"))
	}

	if os.Getenv("PUBLIC_BASE_URL") == "" {
		log.Println("⚠️  PUBLIC_BASE_URL not set - webhooks will not resolve")
	}

	// Initialize storage
	var store storage.Store

	// Check if we should use memory store (for testing)
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		// Connect to database
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		// Run migrations
		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.CallSession{},
			&models.TranscriptEntry{},
			&models.ConversationLogEntry{},
			&models.HandoffRecord{},
			&models.Operator{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB)
		log.Println("✅ Using PostgreSQL database storage")
	}
	storage.SetStore(store)

	// Initialize Twilio service
	twilioService, err := services.NewTwilioService()
	if err != nil {
		log.Fatal("Failed to initialize Twilio service:", err)
	}
	log.Println("✅ Twilio service initialized")

	// Core call machinery
	ledger := services.NewCallLedger(store)
	notifier := services.NewNotifyService()
	speech := services.NewSpeechService()
	supervisor := services.NewTimeoutSupervisor(store, ledger, twilioService)
	handoff := services.NewHandoffOrchestrator(store, ledger, twilioService, notifier)
	driverRegistry := services.NewDriverRegistry()
	supervisor.SetDriverRegistry(driverRegistry)

	// Conversation drivers
	classifier := services.NewClassifierDriver(ledger, supervisor, handoff, notifier)
	bridgeRegistry := services.NewBridgeRegistry()
	engineDialer := services.NewRealtimeEngineDialer(ledger)
	bridge := services.NewBridgeDriver(ledger, supervisor, handoff, bridgeRegistry, engineDialer)

	orchestrator := services.NewCallOrchestrator(ledger, twilioService, supervisor,
		driverRegistry, handoff, notifier, classifier, bridge)

	// Reap calls whose timers were lost (e.g. after a restart)
	sweeper := jobs.NewSweeperJob(supervisor, time.Minute, 15*time.Minute)
	sweeper.Start()

	log.Println("✅ All services initialized")

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "CallPilot Backend v1.0.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PATCH, DELETE, OPTIONS",
	}))

	// Setup routes
	routes.SetupRoutes(app, routes.Handlers{
		Health:    handlers.NewHealthHandler("1.0.0"),
		Calls:     handlers.NewCallHandler(store, orchestrator, handoff),
		Operators: handlers.NewOperatorHandler(store),
		Voice:     handlers.NewVoiceHandler(store, orchestrator, speech),
		Status:    handlers.NewStatusHandler(store, orchestrator, handoff),
		Media:     handlers.NewMediaHandler(bridge),
	})

	// Get port from environment or use default
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		log.Println("⏹️  Stopping sweeper job...")
		sweeper.Stop()
		log.Println("⏹️  Shutting down server...")
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 CallPilot Backend starting on port %s", port)
	log.Printf("📊 Storage: %s", getStorageType())
	log.Printf("🌍 Environment: %s", getEnvironment())
	log.Printf("📞 Telephony: %s", getTelephonyStatus())
	log.Println("========================================")
	log.Println("🔧 Active Services:")
	log.Println("  ✓ Call orchestration")
	log.Println("  ✓ Turn-based classifier driver")
	log.Println("  ✓ Duplex audio bridge driver")
	log.Println("  ✓ Operator handoff")
	log.Println("  ✓ Timeout supervision & stale-call sweeper")
	log.Println("========================================")

	log.Fatal(app.Listen(":" + port))
}

func getEnvironment() string {
	if os.Getenv("INSTANCE_CONNECTION_NAME") != "" {
		return "Production (Cloud Run)"
	}
	return "Development (Local)"
}

func getStorageType() string {
	if os.Getenv("USE_MEMORY_STORE") == "true" {
		return "In-Memory (Testing)"
	}
	return "PostgreSQL Database"
}

func getTelephonyStatus() string {
	if os.Getenv("TWILIO_ACCOUNT_SID") == "" {
		return "Not configured"
	}
	return "Configured"
}
