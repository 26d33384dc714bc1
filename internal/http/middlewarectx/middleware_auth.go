// Package middlewarectx содержит HTTP middleware портала: проверку JWT,
// загрузку профиля пользователя, проверку прав администратора и
// ограничение частоты запросов на пользователя.
package middlewarectx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/middleware"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/traders-portal/internal/http/response"
	"github.com/magabrotheeeer/traders-portal/internal/lib/jwt"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

// Key тип для ключей контекста HTTP-запроса.
type Key string

const (
	// UserID — ключ для ID пользователя в контексте
	UserID Key = "user_id"
	// Profile — ключ для профиля пользователя в контексте
	Profile Key = "profile"
)

// TokenParser проверяет токен провайдера аутентификации.
type TokenParser interface {
	ParseToken(tokenStr string) (*jwt.CustomClaims, error)
}

// ProfileLoader читает профиль пользователя.
type ProfileLoader interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// JWTMiddleware проверяет JWT в заголовке Authorization и кладёт
// ID пользователя в контекст. Иначе отвечает 401. Права администратора
// берутся из профиля, а не из роли в токене.
func JWTMiddleware(log *slog.Logger, tokens TokenParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.JWTMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Warn("missing or invalid authorization header")
				response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing or invalid authorization header")
				return
			}
			tokenStr := strings.TrimPrefix(authHeader, "Bearer ")

			claims, err := tokens.ParseToken(tokenStr)
			if err != nil {
				log.Warn("invalid or expired token", sl.Err(err))
				response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), UserID, claims.UserID())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileMiddleware загружает профиль пользователя из хранилища.
// Профиль передаётся сервисам явно, через ProfileFromContext.
func ProfileMiddleware(log *slog.Logger, profiles ProfileLoader) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const op = "middlewarectx.ProfileMiddleware"
			log := log.With(
				slog.String("op", op),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)

			userID, ok := r.Context().Value(UserID).(string)
			if !ok || userID == "" {
				log.Error("user identification missing")
				response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "user identification missing")
				return
			}

			if _, err := uuid.Parse(userID); err != nil {
				log.Warn("malformed user id in token", slog.String("user_id", userID))
				response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "profile not found")
				return
			}

			profile, err := profiles.GetProfile(r.Context(), userID)
			if errors.Is(err, storage.ErrNotFound) {
				log.Warn("profile not found", slog.String("user_id", userID))
				response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "profile not found")
				return
			}
			if err != nil {
				log.Error("failed to load profile", slog.String("user_id", userID), sl.Err(err))
				response.Fail(w, r, http.StatusServiceUnavailable, response.CodeUnavailable, "service temporarily unavailable, try again")
				return
			}

			ctx := context.WithValue(r.Context(), Profile, profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminOnly пропускает только администраторов. Должен стоять после ProfileMiddleware.
func AdminOnly(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			profile, ok := ProfileFromContext(r.Context())
			if !ok || !profile.IsAdmin {
				log.Warn("admin access denied", slog.String("request_id", middleware.GetReqID(r.Context())))
				response.Fail(w, r, http.StatusForbidden, response.CodeForbidden, "admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ProfileFromContext возвращает профиль, загруженный ProfileMiddleware.
func ProfileFromContext(ctx context.Context) (*models.Profile, bool) {
	profile, ok := ctx.Value(Profile).(*models.Profile)
	return profile, ok && profile != nil
}
