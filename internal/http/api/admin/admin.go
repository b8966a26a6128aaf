// Package admin registers the operations API of the scheduler.
package admin

import (
	internalhttp "github.com/autocommitor/autocommitor/internal/http"
	"github.com/autocommitor/autocommitor/internal/http/api/admin/handlers"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies are the components served by the operations API.
type Dependencies struct {
	DB          *gorm.DB
	JWTSecret   string
	Ticks       handlers.TickRunner
	Credentials handlers.CredentialAdmin
	Checker     handlers.TokenChecker
	Rules       handlers.RuleReader
	Attempts    handlers.AttemptLister
}

// RegisterAdminRoutes registers the health endpoint and the operator-only admin routes.
func RegisterAdminRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.DB)
	r.GET("/healthz", healthHandler.Healthz)

	authed := r.Group("/v0/admin")
	authed.Use(internalhttp.OperatorAuthMiddleware(deps.JWTSecret))

	tickHandler := handlers.NewTickHandler(deps.Ticks)
	authed.POST("/ticks", tickHandler.Create)

	credentialHandler := handlers.NewCredentialHandler(deps.Credentials, deps.Checker)
	authed.PUT("/users/:id/credential", credentialHandler.Store)
	authed.POST("/users/:id/credential/verify", credentialHandler.Verify)
	authed.POST("/users/:id/disconnect", credentialHandler.Disconnect)

	attemptHandler := handlers.NewAttemptHandler(deps.Rules, deps.Attempts)
	authed.GET("/automations/:id/attempts", attemptHandler.List)
}
