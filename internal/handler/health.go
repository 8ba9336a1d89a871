package handler // declare the package name; contains HTTP handlers

import (
    "context"  // bounded timeouts for dependency probes
    "database/sql"
    "net/http" // net/http provides status codes and response helpers
    "time"

    "github.com/labstack/echo/v4" // echo is the web framework used for this project

    "github.com/ecoledger/marketplace/internal/authenticator"
)

// HealthHandler reports the service's own liveness plus the state of
// its two hard dependencies: the database and the external certificate
// verification service.  Load balancers key on the 200; operators read
// the detail.
type HealthHandler struct {
    DB   *sql.DB
    Auth *authenticator.Client
}

// Health answers 200 as long as the process is serving.  Dependency
// states are reported in the body but do not fail the probe: the
// marketplace can still browse listings while the authenticator is
// down, uploads just cannot be verified.
func (h *HealthHandler) Health(c echo.Context) error {
    ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
    defer cancel()

    dbStatus := "connected"
    if err := h.DB.PingContext(ctx); err != nil {
        dbStatus = "disconnected"
    }
    authStatus := "reachable"
    if err := h.Auth.Health(ctx); err != nil {
        authStatus = "unreachable"
    }

    return c.JSON(http.StatusOK, echo.Map{
        "status":        "ok",
        "database":      dbStatus,
        "authenticator": authStatus,
    })
}
