package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/questlog/questlog/internal/database"
	"go.uber.org/zap"
)

// ActivityTracking records the last time each authenticated user touched the
// API. The recurrence sweeper only materializes successors for users seen
// within the configured activity window, so this stamp is what keeps a user
// eligible for scheduled sweeps.
func ActivityTracking(activityRepo database.UserActivityRepositoryInterface, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Only track activity for authenticated requests
			user := UserFromContext(r)
			if user != nil {
				// Stamp in the background so a slow write never delays the request
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
					defer cancel()

					if err := activityRepo.Touch(ctx, user.ID); err != nil {
						logger.Warn("activity_touch_failed",
							zap.String("user_id", user.ID.String()),
							zap.Error(err),
						)
					}
				}()
			}

			next.ServeHTTP(w, r)
		})
	}
}
