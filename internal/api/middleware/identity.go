package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/api/shared"
	"github.com/phrazzld/fintrack-api/internal/platform/logger"
)

// UserIDHeader carries the caller identity established by the upstream
// authentication proxy.
const UserIDHeader = "X-User-ID"

// RequireUser rejects requests without a valid X-User-ID header and stores
// the parsed ID in the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(UserIDHeader))
		if raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "User identity required")
			return
		}
		userID, err := uuid.Parse(raw)
		if err != nil || userID == uuid.Nil {
			logger.FromContext(r.Context()).Warn("rejected malformed user identity",
				slog.Int("header_length", len(raw)))
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid user identity")
			return
		}

		ctx := shared.WithUserID(r.Context(), userID)
		ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With(slog.String("user_id", userID.String())))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
