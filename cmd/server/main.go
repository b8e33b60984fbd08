package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"bookline_app_echo/internal/handlers"
	authMiddleware "bookline_app_echo/internal/middleware"
	"bookline_app_echo/internal/services"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	// Initialize Firebase. An unset path falls back to application
	// default credentials.
	authClient, err := services.InitFirebase(os.Getenv("FIREBASE_CREDENTIALS_PATH"))
	if err != nil {
		log.Printf("Warning: Firebase initialization failed: %v", err)
		log.Println("Staff endpoints will not work until valid credentials are provided")
	}

	// Initialize Database
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL not set")
	}
	db, err := services.InitDB(databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := services.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Initialize Redis (optional; the webhook dedupe fast path and status
	// caching degrade gracefully without it)
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Printf("Warning: Redis initialization failed: %v", err)
			cache = nil
		}
	} else {
		log.Println("Warning: REDIS_URL not set, caching disabled")
	}

	// Wire services
	stripeService := services.NewStripeService()
	emailService := services.NewEmailService()
	wahaService := services.NewWahaService()
	notifier := services.NewNotificationService(emailService, wahaService)
	checkoutService := services.NewCheckoutService(db, stripeService)
	reconcileService := services.NewReconcileService(db, stripeService, cache, notifier)

	// Create Echo instance
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = authMiddleware.CustomErrorHandler

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(stripeService, reconcileService)
	appointmentHandler := handlers.NewAppointmentHandler(db, cache, checkoutService)
	listingHandler := handlers.NewListingHandler(db, cache, checkoutService)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Webhook ingestion. CORS middleware answers the OPTIONS preflight;
	// unregistered methods get a 405 from the router.
	webhooks := e.Group("/webhooks")
	webhooks.Use(middleware.CORS())
	webhooks.POST("/stripe", webhookHandler.HandleStripeWebhook)

	// Public booking flow
	e.POST("/api/appointments", appointmentHandler.CreateAppointment)
	e.POST("/api/appointments/:uuid/checkout", appointmentHandler.InitiateCheckout)
	e.GET("/api/appointments/:uuid/status", appointmentHandler.CheckStatus)

	e.POST("/api/listings", listingHandler.CreateListing)
	e.POST("/api/listings/:uuid/checkout", listingHandler.InitiateCheckout)
	e.GET("/api/listings/:uuid/status", listingHandler.CheckStatus)

	// Staff endpoints
	staff := e.Group("/api/staff")
	staff.Use(authMiddleware.RequireAuth(authClient))
	staff.GET("/appointments", appointmentHandler.ListAppointments)
	staff.GET("/listings", listingHandler.ListListings)

	// Start server
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Server starting on port %s", port)
	e.Logger.Fatal(e.Start(":" + port))
}
