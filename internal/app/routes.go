package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chainpass/core/internal/middleware"
	"github.com/chainpass/core/internal/modules/scan"
	"github.com/chainpass/core/internal/modules/session"
	"github.com/chainpass/core/internal/pkg/identity"
	"github.com/chainpass/core/internal/pkg/jwt"
	"github.com/chainpass/core/internal/pkg/response"
)

func (a *App) registerRoutes(sessionSvc *session.Service, scanSvc *scan.Service, verifier *jwt.Verifier, resolver identity.Resolver) {
	r := a.router
	authMW := middleware.Auth(verifier, resolver)

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "no such endpoint")
	})

	api := r.Group("/api/v1")

	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": "pong"})
	})
	api.GET("/jobs", authMW, func(c *gin.Context) {
		response.List(c, a.sched.List())
	})

	session.NewHandler(sessionSvc).RegisterRoutes(api, authMW)
	scan.NewHandler(scanSvc).RegisterRoutes(api, authMW)
}
