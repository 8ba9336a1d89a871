package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4" // import the Echo web framework to handle routing

	"github.com/ecoledger/marketplace/internal/handler"    // import the handlers that implement business logic
	"github.com/ecoledger/marketplace/internal/middleware" // import middleware for JWT authentication and role enforcement
	"github.com/ecoledger/marketplace/internal/model"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance.  Currently it exposes only the health check, which
// also reports database and authenticator reachability.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterAuth registers all authentication‑related routes and applies the
// necessary middleware.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	// Create a route group under the /v1/auth prefix for operations that do
	// not require an existing session (register, login, refresh).  Each of
	// these handlers is responsible for generating or exchanging tokens.
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates the refresh token and issues a new access token.
	g.POST("/refresh", a.Refresh)
	// Logout does not require JWT authentication: it accepts either a bearer
	// token (revoke every session) or a `refresh_token` body (revoke one), so
	// clients with an expired access token can still terminate a session.
	g.POST("/logout", a.Logout)

	// Create another group for routes that require a valid access token.  All
	// handlers registered on this group will execute the JWTAuth middleware
	// before being invoked.  Protected endpoints live under /v1.
	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	// Any known role may call the generic protected endpoints.  The
	// middleware rejects requests with missing or unknown roles.
	auth.Use(middleware.RequireRole(model.RoleIndividual, model.RoleOrganization, model.RoleAdmin))
	auth.GET("/me", a.Me)
}

// RegisterCredits registers the certificate endpoints.  All of them require
// authentication: uploads are tied to the caller's identity and stored
// certificates are only visible to their owner (or an admin).
func RegisterCredits(e *echo.Echo, h *handler.CreditHandler, jwtSecret string) {
	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleIndividual, model.RoleOrganization, model.RoleAdmin))

	g.POST("/credits/upload", h.UploadCertificate)
	g.GET("/credits/:fileRef/view", h.ViewCertificate)
	g.GET("/me/credits", h.MyCredits)
}

// RegisterMarketplace registers the listing endpoints.  Browsing is public
// so that guests can inspect the marketplace before signing up; the caller
// may pass middleware (rate limiter, response cache) to wrap it with.
// Creating and removing listings require authentication.
func RegisterMarketplace(e *echo.Echo, h *handler.MarketplaceHandler, jwtSecret string, browseMW ...echo.MiddlewareFunc) {
	e.GET("/v1/marketplace/listings", h.BrowseListings, browseMW...)

	g := e.Group("/v1/marketplace")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleIndividual, model.RoleOrganization, model.RoleAdmin))
	g.POST("/list", h.CreateListing)
	g.DELETE("/listings/:id", h.DeleteListing)
}
