package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/adilv/go-checkout-store/internal/models"
)

// Authentication is an external collaborator: the gateway in front of this
// service verifies tokens and forwards the result as trusted headers.
const (
	headerUserID  = "X-User-Id"
	headerRole    = "X-User-Role"
	headerSession = "Session-Id"
)

type identity struct {
	UserID int64
	Role   string
}

type ctxKey int

const identityKey ctxKey = iota

func withIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idStr := r.Header.Get(headerUserID)
		if idStr == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil || userID <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		role := r.Header.Get(headerRole)
		switch role {
		case models.RoleBuyer, models.RoleSeller, models.RoleAdmin:
		default:
			role = models.RoleBuyer
		}

		ctx := context.WithValue(r.Context(), identityKey, identity{UserID: userID, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) (identity, bool) {
	id, ok := r.Context().Value(identityKey).(identity)
	return id, ok
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}
