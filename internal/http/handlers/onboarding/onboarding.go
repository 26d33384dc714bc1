// Package onboarding реализует HTTP-обработчик вопроса при первом входе:
// покупал ли пользователь стратегию раньше.
package onboarding

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"

	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
	"github.com/magabrotheeeer/traders-portal/internal/http/response"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/services/entitlement"
)

// Service классифицирует нового пользователя.
type Service interface {
	ClassifyNewUser(ctx context.Context, profile *models.Profile, req models.DummyOnboarding) (models.Grant, error)
}

// Handler управляет HTTP-запросами онбординга.
type Handler struct {
	log      *slog.Logger
	service  Service
	validate *validator.Validate
}

// New создает новый Handler.
func New(log *slog.Logger, service Service) *Handler {
	return &Handler{
		log:      log,
		service:  service,
		validate: validator.New(),
	}
}

// ServeHTTP godoc
// @Summary Онбординг
// @Description Выдаёт alpha_strategy при верной кодовой фразе, иначе alpha_lite. Только для пользователя без продуктов.
// @Tags Access
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DummyOnboarding true "Ответ на вопрос онбординга"
// @Success 200 {object} response.OKResponse{data=models.Grant} "Продукт выдан параллельным запросом"
// @Success 201 {object} response.OKResponse{data=models.Grant} "Продукт выдан"
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 401 {object} response.ErrorResponse "Пользователь не авторизован"
// @Failure 409 {object} response.ErrorResponse "Онбординг уже пройден"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 429 {object} response.ErrorResponse "Слишком много запросов"
// @Failure 503 {object} response.ErrorResponse "Хранилище недоступно"
// @Router /me/onboarding [post]
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const op = "handlers.onboarding"
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

	var req models.DummyOnboarding
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error("failed to decode request", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Warn("validation failed", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		log.Error("validation failed", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}

	grant, err := h.service.ClassifyNewUser(r.Context(), profile, req)
	if errors.Is(err, entitlement.ErrAlreadyClassified) {
		log.Warn("onboarding repeated", slog.String("user_id", profile.ID))
		response.Fail(w, r, http.StatusConflict, response.CodeAlreadyClassified, "onboarding already completed")
		return
	}
	if err != nil {
		log.Error("failed to classify user", slog.String("user_id", profile.ID), sl.Err(err))
		response.Fail(w, r, http.StatusServiceUnavailable, response.CodeUnavailable, "could not complete onboarding, try again")
		return
	}

	log.Info("user classified", slog.String("user_id", profile.ID),
		slog.String("tier", string(grant.Tier)), slog.Bool("created", grant.Created))
	if grant.Created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, response.OKWithData(grant))
}
