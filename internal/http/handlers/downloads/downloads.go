// Package downloads реализует HTTP-обработчики страницы загрузок:
// список артефактов, состояние артефакта и попытку загрузки.
package downloads

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
	"github.com/magabrotheeeer/traders-portal/internal/http/response"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/services/ledger"
)

// Service журнал загрузок.
type Service interface {
	List(ctx context.Context, profile *models.Profile) ([]models.ArtifactView, error)
	Status(ctx context.Context, profile *models.Profile, artifactID string) (*models.ArtifactView, error)
	AttemptDownload(ctx context.Context, profile *models.Profile, req ledger.AttemptRequest) (*models.AttemptResult, error)
}

// Handler обрабатывает запросы страницы загрузок.
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

// writeError переводит ошибки журнала в HTTP-ответ.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, ledger.ErrNoProfile):
		response.Fail(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "unauthorized")
	case errors.Is(err, ledger.ErrArtifactNotFound):
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "artifact not found")
	case errors.Is(err, ledger.ErrLinkNotFound):
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "download link not found")
	case errors.Is(err, ledger.ErrLocked):
		response.Fail(w, r, http.StatusForbidden, response.CodeLocked,
			"this download requires a product you do not have")
	case errors.Is(err, ledger.ErrLimitReached):
		response.Fail(w, r, http.StatusForbidden, response.CodeLimitReached,
			"download limit reached for this version, contact support to reset it")
	case errors.Is(err, ledger.ErrAcknowledgementRequired):
		response.Fail(w, r, http.StatusPreconditionRequired, response.CodeAckRequired,
			"confirm the installation requirements before downloading")
	case errors.Is(err, ledger.ErrAlreadyDownloaded):
		response.Fail(w, r, http.StatusConflict, response.CodeAlreadyDownloaded,
			"this download was already recorded")
	case errors.Is(err, ledger.ErrUnavailable):
		log.Error("download service unavailable", sl.Err(err))
		response.Fail(w, r, http.StatusServiceUnavailable, response.CodeUnavailable,
			"service temporarily unavailable, try again")
	default:
		log.Error("unexpected download error", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error")
	}
}

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

// artifactID читает ID артефакта из пути. Невалидный UUID считается несуществующим артефактом.
func artifactID(r *http.Request) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// List godoc
// @Summary Список загрузок
// @Description Активные артефакты с состоянием (locked, eligible, limit_reached) и остатком загрузок. URL зеркал не раскрываются.
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=[]models.ArtifactView}
// @Failure 401 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /downloads [get]
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.downloads.List")

	profile, _ := middlewarectx.ProfileFromContext(r.Context())
	views, err := h.service.List(r.Context(), profile)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(views))
}

// Status godoc
// @Summary Состояние артефакта
// @Tags Downloads
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Success 200 {object} response.OKResponse{data=models.ArtifactView}
// @Failure 401 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /downloads/{id} [get]
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.downloads.Status")

	id, ok := artifactID(r)
	if !ok {
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "artifact not found")
		return
	}
	profile, _ := middlewarectx.ProfileFromContext(r.Context())
	view, err := h.service.Status(r.Context(), profile, id)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(view))
}

// Attempt godoc
// @Summary Загрузить артефакт
// @Description Проверяет права и лимит, записывает загрузку и возвращает URL выбранного зеркала.
// @Tags Downloads
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Param request body models.DummyAttempt true "Зеркало и подтверждение требований"
// @Success 200 {object} response.OKResponse{data=models.AttemptResult}
// @Failure 400 {object} response.ErrorResponse "Некорректный JSON"
// @Failure 403 {object} response.ErrorResponse "locked или limit_reached"
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse "Загрузка уже записана параллельным запросом"
// @Failure 422 {object} response.ErrorResponse "Ошибка валидации"
// @Failure 428 {object} response.ErrorResponse "Требования не подтверждены"
// @Failure 429 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /downloads/{id}/attempt [post]
func (h *Handler) Attempt(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.downloads.Attempt")

	id, ok := artifactID(r)
	if !ok {
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "artifact not found")
		return
	}

	var req models.DummyAttempt
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("failed to decode request", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return
		}
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return
	}

	profile, _ := middlewarectx.ProfileFromContext(r.Context())
	res, err := h.service.AttemptDownload(r.Context(), profile, ledger.AttemptRequest{
		ArtifactID:   id,
		LinkID:       req.LinkID,
		Acknowledged: req.Acknowledged,
	})
	if err != nil {
		writeError(w, r, log, err)
		return
	}

	log.Info("download granted", slog.String("artifact_id", id), slog.Int("used", res.Used))
	render.JSON(w, r, response.OKWithData(res))
}
