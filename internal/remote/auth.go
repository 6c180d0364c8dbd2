package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshLeeway is how far ahead of token expiry a refresh is attempted.
const refreshLeeway = 10 * time.Minute

// maybeRefreshToken refreshes the bearer token when it is within
// refreshLeeway of expiring. Refresh failures are logged and ignored;
// the original call proceeds with the old token and fails on its own
// terms if the token is truly dead.
func (c *Client) maybeRefreshToken(ctx context.Context, path string) {
	// The refresh call itself must not recurse.
	if strings.Contains(path, "auth-with-password") || strings.Contains(path, "auth-refresh") {
		return
	}
	token := c.Token()
	if token == "" {
		return
	}
	exp, err := tokenExpiry(token)
	if err != nil {
		return
	}
	if time.Until(exp) > refreshLeeway {
		return
	}

	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "/api/collections/users/auth-refresh", nil, &resp); err != nil {
		c.logger.Warn("failed to refresh auth token", "error", err)
		return
	}
	c.setToken(resp.Token)
	c.logger.Debug("auth token refreshed")
}

// tokenExpiry extracts the exp claim from a bearer token without
// verifying the signature. The store verifies tokens server-side; the
// client only needs the expiry to know when to refresh.
func tokenExpiry(token string) (time.Time, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, fmt.Errorf("token has no expiry claim")
	}
	return exp.Time, nil
}
