// File: /routes/routes.go
package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"tourops-api/config"
	"tourops-api/controllers"
	"tourops-api/middleware"
	"tourops-api/repositories"
	"tourops-api/services"
)

// Services holds the shared services handed to the controllers
type Services struct {
	Cache    *services.CacheService
	Notifier services.Notifier
	Email    *services.EmailService
	Progress *services.RoundProgressService
	Trips    *services.TripService
}

// NewServices builds the progress engine and trip service on db. cache,
// notifier and email may be nil.
func NewServices(db *gorm.DB, cache *services.CacheService, notifier services.Notifier, email *services.EmailService, logger *zap.Logger) *Services {
	if cache == nil {
		cache = services.NewCacheService(nil, 0, logger)
	}
	if notifier == nil {
		notifier = services.NopNotifier{}
	}
	progress := services.NewRoundProgressService(repositories.NewRoundRepository(db), logger)
	return &Services{
		Cache:    cache,
		Notifier: notifier,
		Email:    email,
		Progress: progress,
		Trips:    services.NewTripService(repositories.NewTripRepository(db), progress, logger),
	}
}

// NewRouter creates the engine with the middleware chain and all routes.
// Closing stop ends background middleware loops.
func NewRouter(db *gorm.DB, cfg *config.Config, svc *Services, logger *zap.Logger, stop <-chan struct{}) *gin.Engine {
	router := gin.New()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(SetupCORS(cfg.CORSOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.ErrorHandler(logger))
	if cfg.RateLimitPerMin > 0 {
		router.Use(middleware.RateLimit(cfg.RateLimitPerMin, cfg.RateLimitPerMin/6+1, stop))
	}
	router.Use(middleware.ValidateJSON())

	SetupRoutes(router, db, cfg, svc, logger)
	return router
}

// SetupCORS allows the configured origins; "*" allows any origin.
func SetupCORS(origins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           10 * time.Minute,
	}

	allowAll := len(origins) == 0
	for _, origin := range origins {
		if origin == "*" {
			allowAll = true
		}
	}
	if allowAll {
		corsConfig.AllowOriginFunc = func(string) bool { return true }
	} else {
		corsConfig.AllowOrigins = origins
	}
	return cors.New(corsConfig)
}

func SetupRoutes(r *gin.Engine, db *gorm.DB, cfg *config.Config, svc *Services, logger *zap.Logger) {
	// Controllers
	healthController := controllers.NewHealthController(db, svc.Cache, logger)
	authController := controllers.NewAuthController(db, cfg, logger)
	tenantController := controllers.NewTenantController(db, logger)
	userController := controllers.NewUserController(db, svc.Email, logger)
	busController := controllers.NewBusController(db, svc.Cache, logger)
	tripController := controllers.NewTripController(db, svc.Trips, svc.Cache, logger)
	tripBusController := controllers.NewTripBusController(db, svc.Trips, svc.Cache, logger)
	roundController := controllers.NewRoundController(db, logger)
	roundBusController := controllers.NewRoundBusController(db, svc.Progress, svc.Notifier, svc.Email, logger)
	passengerController := controllers.NewPassengerController(db, svc.Cache, svc.Notifier, logger)
	transactionController := controllers.NewTransactionController(db, logger)
	dashboardController := controllers.NewDashboardController(db, svc.Cache, logger)

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
			"status":  "healthy",
		})
	})
	r.GET("/health", healthController.Check)

	// API version 1
	v1 := r.Group("/api/v1")
	v1.GET("/health", healthController.Check)

	// Auth routes (public)
	auth := v1.Group("/auth")
	{
		auth.POST("/login", authController.Login)
		auth.POST("/refresh", authController.Refresh)
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret, db))
	{
		protected.GET("/auth/me", authController.Me)
		protected.GET("/roles", userController.GetRoles)
		protected.GET("/dashboard/overview", dashboardController.GetOverview)

		manageTenants := middleware.RequireCapability(services.CapManageTenants)
		tenants := protected.Group("/tenants")
		{
			tenants.GET("", tenantController.GetTenants)
			tenants.GET("/:id", tenantController.GetTenant)
			tenants.POST("", manageTenants, tenantController.CreateTenant)
			tenants.PUT("/:id", manageTenants, tenantController.UpdateTenant)
			tenants.DELETE("/:id", manageTenants, tenantController.DeleteTenant)
		}

		users := protected.Group("/users")
		users.Use(middleware.RequireCapability(services.CapManageUsers))
		{
			users.GET("", userController.GetUsers)
			users.POST("", userController.CreateUser)
			users.GET("/:id", userController.GetUser)
			users.PUT("/:id", userController.UpdateUser)
			users.DELETE("/:id", userController.DeleteUser)
		}

		manageFleet := middleware.RequireCapability(services.CapManageFleet)
		buses := protected.Group("/buses")
		{
			buses.GET("", busController.GetBuses)
			buses.GET("/:id", busController.GetBus)
			buses.POST("", manageFleet, busController.CreateBus)
			buses.PUT("/:id", manageFleet, busController.UpdateBus)
			buses.DELETE("/:id", manageFleet, busController.DeleteBus)
		}

		manageTrips := middleware.RequireCapability(services.CapManageTrips)
		trips := protected.Group("/trips")
		{
			trips.GET("", tripController.GetTrips)
			trips.GET("/:id", tripController.GetTrip)
			trips.POST("", manageTrips, tripController.CreateTrip)
			trips.PUT("/:id", manageTrips, tripController.UpdateTrip)
			trips.DELETE("/:id", manageTrips, tripController.DeleteTrip)
			trips.POST("/:id/rounds/resync", manageTrips, tripController.ResyncRounds)
		}

		tripBuses := protected.Group("/trip-buses")
		{
			tripBuses.GET("", tripBusController.GetTripBuses)
			tripBuses.GET("/:id", tripBusController.GetTripBus)
			tripBuses.POST("", manageTrips, tripBusController.CreateTripBus)
			tripBuses.PUT("/:id", manageTrips, tripBusController.UpdateTripBus)
			tripBuses.DELETE("/:id", manageTrips, tripBusController.DeleteTripBus)
		}

		rounds := protected.Group("/rounds")
		{
			rounds.GET("", roundController.GetRounds)
			rounds.GET("/:id", roundController.GetRound)
			rounds.POST("", manageTrips, roundController.CreateRound)
			rounds.PUT("/:id", manageTrips, roundController.UpdateRound)
			rounds.DELETE("/:id", manageTrips, roundController.DeleteRound)
		}

		finalizeRound := middleware.RequireCapability(services.CapFinalizeRound)
		roundBuses := protected.Group("/round-buses")
		{
			roundBuses.GET("", roundBusController.GetRoundBuses)
			roundBuses.GET("/:id", roundBusController.GetRoundBus)
			roundBuses.POST("", manageTrips, roundBusController.CreateRoundBus)
			roundBuses.PUT("/:id", manageTrips, roundBusController.UpdateRoundBus)
			roundBuses.DELETE("/:id", manageTrips, roundBusController.DeleteRoundBus)
			roundBuses.POST("/:id/finalize", finalizeRound, roundBusController.Finalize)
			roundBuses.POST("/:id/unfinalize", finalizeRound, roundBusController.Unfinalize)
		}

		passengers := protected.Group("/passengers")
		{
			passengers.GET("", passengerController.GetPassengers)
			passengers.GET("/:id", passengerController.GetPassenger)
			passengers.POST("", manageTrips, passengerController.CreatePassenger)
			passengers.PUT("/:id", manageTrips, passengerController.UpdatePassenger)
			passengers.DELETE("/:id", manageTrips, passengerController.DeletePassenger)
			passengers.PUT("/:id/assignment", manageTrips, passengerController.AssignBus)
			passengers.POST("/:id/transfer", manageTrips, passengerController.Transfer)
		}

		transactions := protected.Group("/transactions")
		{
			transactions.GET("", transactionController.GetTransactions)
			transactions.GET("/:id", transactionController.GetTransaction)
			transactions.POST("", finalizeRound, transactionController.CreateTransaction)
			transactions.PUT("/:id", finalizeRound, transactionController.UpdateTransaction)
			transactions.DELETE("/:id", finalizeRound, transactionController.DeleteTransaction)
		}
	}
}
