package main

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/shrek82/jconn/middleware"
	"github.com/shrek82/jconn/pool"
)

// RequestIDHeader is the HTTP header used for request tracing.
const RequestIDHeader = "X-Request-ID"

// requestID reuses the caller's request id or makes one, and puts it in the
// request context where the tracing middleware finds it.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(RequestIDHeader, id)
		ctx := context.WithValue(c.Request.Context(), middleware.RequestIDKey, id)
		ctx = context.WithValue(ctx, middleware.UserIPKey, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// connectionScope closes stale connections before and after each request and
// drops the request goroutine's wrappers once it is done.
func connectionScope(h *pool.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		_ = h.CloseOld(c.Request.Context())
		defer h.CloseAll()
		c.Next()
	}
}

func newRouter(h *pool.Handler, aliases []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/health/databases", connectionScope(h), func(c *gin.Context) {
		results, failed := checkAll(c.Request.Context(), h, aliases)
		status := http.StatusOK
		if failed {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"databases": results})
	})

	router.GET("/health/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": h.Stats()})
	})

	return router
}

func serve(addr string, h *pool.Handler, aliases []string, debug bool) error {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return newRouter(h, aliases).Run(addr)
}
