package config

import "time"

// AuthenticatorConfig holds settings for the external certificate
// verification service.  The service parses uploaded PDFs, assigns the
// canonical serial number and cross-checks the project against the
// carbon registry.  It is an opaque HTTP dependency: only its base URL
// and a call timeout are configurable here.
type AuthenticatorConfig struct {
    BaseURL string        // e.g. http://localhost:5001
    Timeout time.Duration // per-call timeout for outbound requests
}

// LoadAuthenticatorConfig reads the authenticator settings.  The base
// URL is required; the timeout defaults to 15s which comfortably covers
// the service's own 10s registry lookups.
func LoadAuthenticatorConfig() AuthenticatorConfig {
    return AuthenticatorConfig{
        BaseURL: must("AUTHENTICATOR_URL"),
        Timeout: envDur("AUTHENTICATOR_TIMEOUT", 15*time.Second),
    }
}
