// ABOUTME: HTTP bearer middleware accepting either a JWT or an API key.
// ABOUTME: Attaches the authenticated identity to the request context.

package auth

import (
	"net/http"
	"strings"
)

// extractBearerToken pulls the token from an Authorization header. Returns
// the token and an error message, empty on success.
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware authenticates requests with a bearer credential. API keys are
// recognized by their prefix; everything else is treated as a JWT. With a
// nil verifier and nil key store the middleware is a pass-through, for
// deployments that front the gateway with their own auth.
func Middleware(verifier TokenVerifier, keys KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if verifier == nil && keys == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				unauthorized(w, errMsg)
				return
			}

			var id *Identity
			if strings.HasPrefix(token, keyPrefix) && keys != nil {
				name, err := VerifyAPIKey(r.Context(), keys, token)
				if err != nil {
					unauthorized(w, "invalid api key")
					return
				}
				id = &Identity{Name: name, Method: "api_key"}
			} else if verifier != nil {
				name, err := verifier.Verify(token)
				if err != nil {
					unauthorized(w, "invalid token")
					return
				}
				id = &Identity{Name: name, Method: "jwt"}
			} else {
				unauthorized(w, "invalid credential")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
