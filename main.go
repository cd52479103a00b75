package main

import (
	"log"
	"os"

	"github.com/gin-gonic/gin"

	"kritika/analytics"
	"kritika/auth"
	"kritika/catalog"
	"kritika/common"
	"kritika/database"
	"kritika/email"
	"kritika/reviews"
	"kritika/users"
)

func main() {
	common.LoadEnv()

	db := common.ConnectDb()
	if db == nil {
		log.Fatal("Failed to connect to database")
	}

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("Failed to run migrations:", err)
	}

	secret := os.Getenv("SECRET_KEY")
	if secret == "" {
		log.Fatal("SECRET_KEY environment variable not set")
	}

	router := gin.Default()
	router.Use(common.RequestID())
	router.Use(common.CORS())

	authModule := auth.NewAuthModule(db, email.NewEmailService(), secret)
	authModule.RegisterRoutes(router)

	usersModule := users.NewUsersModule(db, authModule)
	usersModule.RegisterRoutes(router)

	analyticsModule := analytics.NewAnalyticsModule(db, authModule)
	analyticsModule.RegisterRoutes(router)

	catalogModule := catalog.NewCatalogModule(db, authModule, analyticsModule)
	catalogModule.RegisterRoutes(router)

	reviewsModule := reviews.NewReviewsModule(db, authModule)
	reviewsModule.RegisterRoutes(router)

	port := common.GetEnv("PORT", "8080")

	log.Printf("Starting server on port %s...", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
