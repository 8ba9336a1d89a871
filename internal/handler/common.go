package handler

import (
    "strconv"

    "github.com/labstack/echo/v4"
)

// CurrentUserID returns the authenticated caller's user ID from the
// context values set by the JWTAuth middleware, or 0 when absent.  JWT
// numeric claims decode as float64; some clients send string subjects,
// so both forms are accepted.
func CurrentUserID(c echo.Context) uint64 {
    switch v := c.Get("user_id").(type) {
    case float64:
        return uint64(v)
    case uint64:
        return v
    case string:
        if n, err := strconv.ParseUint(v, 10, 64); err == nil {
            return n
        }
    }
    return 0
}

// CurrentRole returns the caller's role claim, or "" when absent.
func CurrentRole(c echo.Context) string {
    if s, ok := c.Get("role").(string); ok {
        return s
    }
    return ""
}
