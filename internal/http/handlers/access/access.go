// Package access реализует HTTP-обработчик уровня доступа текущего пользователя.
package access

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"

	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
	"github.com/magabrotheeeer/traders-portal/internal/http/response"
	"github.com/magabrotheeeer/traders-portal/internal/models"
)

// Service вычисляет уровень доступа.
type Service interface {
	ComputeAccessLevel(ctx context.Context, profile *models.Profile) models.AccessLevel
}

// Handler отдаёт флаги видимости разделов портала.
type Handler struct {
	log     *slog.Logger
	service Service
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:     log,
		service: service,
	}
}

// ServeHTTP godoc
// @Summary Уровень доступа
// @Description Флаги видимости разделов портала для текущего пользователя. При сбое хранилища все флаги закрыты.
// @Tags Access
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=models.AccessLevel}
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Router /me/access [get]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.access"
	log := h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)

	profile, ok := middlewarectx.ProfileFromContext(r.Context())
	if !ok {
		log.Error("profile not found in context")
		response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "unauthorized")
		return
	}

	level := h.service.ComputeAccessLevel(r.Context(), profile)
	log.Debug("access level computed", slog.Any("product_codes", level.ProductCodes))
	render.JSON(w, r, response.OKWithData(level))
}
