package common

import (
	"log"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestID tags every request with a UUID and logs the request line,
// so log output from separate requests can be told apart.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := uuid.New().String()
		c.Set("RequestID", requestID)
		c.Header("X-Request-ID", requestID)

		log.Printf("request %s >> %s | %s | %s",
			requestID, c.ClientIP(), c.Request.Method, c.Request.URL.Path)

		c.Next()

		for _, err := range c.Errors {
			log.Printf("request %s >> %d | error: %s",
				requestID, c.Writer.Status(), err.Err.Error())
		}
	}
}

// CORS builds the CORS middleware from the ALLOWED_ORIGINS environment
// variable (comma-separated). With no origins configured, all are allowed.
func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	config.AddAllowHeaders("Authorization")

	origins := GetEnv("ALLOWED_ORIGINS", "")
	if origins == "" {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = strings.Split(origins, ",")
		config.AllowCredentials = true
	}

	return cors.New(config)
}
