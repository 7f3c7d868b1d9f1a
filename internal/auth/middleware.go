package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const deviceIDKey contextKey = "device_id"

// Middleware verifies gate device bearer tokens against the configured
// OIDC issuer and puts the device identity into the request context.
// Set SKIP_DEVICE_AUTH=true to bypass verification in development; the
// device id then comes from the unverified token claims.
func Middleware(issuer string, cache *DeviceTokenCache) func(http.Handler) http.Handler {
	skip := os.Getenv("SKIP_DEVICE_AUTH") == "true"

	var verifier *oidc.IDTokenVerifier
	if !skip {
		provider, err := oidc.NewProvider(context.Background(), issuer)
		if err != nil {
			panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
		}
		verifier = provider.Verifier(&oidc.Config{
			SkipClientIDCheck: true,
		})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			if skip {
				deviceID, err := ExtractDeviceIDFromJWT(rawToken)
				if err != nil {
					http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
					return
				}
				next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
				return
			}

			// Entry rushes hit this for every scan; a short-lived cache of
			// verified tokens keeps the verifier off the hot path.
			if cache != nil {
				if deviceID, ok := cache.Lookup(r.Context(), rawToken); ok {
					next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), deviceID)))
					return
				}
			}

			idToken, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub string `json:"sub"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}

			if cache != nil {
				cache.Store(r.Context(), rawToken, claims.Sub, idToken.Expiry)
			}

			next.ServeHTTP(w, r.WithContext(WithDeviceID(r.Context(), claims.Sub)))
		})
	}
}

// WithDeviceID stamps an authenticated device identity onto a context.
func WithDeviceID(ctx context.Context, deviceID string) context.Context {
	return context.WithValue(ctx, deviceIDKey, deviceID)
}

// DeviceID extracts the authenticated device identity in handlers.
func DeviceID(ctx context.Context) string {
	if id, ok := ctx.Value(deviceIDKey).(string); ok {
		return id
	}
	return ""
}
