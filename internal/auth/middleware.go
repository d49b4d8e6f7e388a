package auth

import (
	"net/http"
	"strings"

	"github.com/glueful/accessd/internal/shared"
)

// RequireAPIKey authenticates requests via "Authorization: Bearer <keyID>.<secret>"
// and stores the resulting actor in the request context.
func RequireAPIKey(service *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, secret, ok := parseBearer(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			account, err := service.Authenticate(r.Context(), keyID, secret)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := shared.ContextWithActor(r.Context(), &shared.Actor{
				AccountID: account.ID.String(),
				Name:      account.Name,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func parseBearer(header string) (string, string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	keyID, secret, found := strings.Cut(token, ".")
	if !found || keyID == "" || secret == "" {
		return "", "", false
	}
	return keyID, secret, true
}
