// Package admin реализует HTTP-обработчики админки: каталог продуктов и
// артефактов, назначения продуктов, список пользователей и сброс лимитов.
//
// Все маршруты монтируются за JWTMiddleware, ProfileMiddleware и AdminOnly.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/go-playground/validator"
	"github.com/google/uuid"

	"github.com/magabrotheeeer/traders-portal/internal/http/middlewarectx"
	"github.com/magabrotheeeer/traders-portal/internal/http/response"
	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	adminsvc "github.com/magabrotheeeer/traders-portal/internal/services/admin"
)

// Service операции админки.
type Service interface {
	ListProducts(ctx context.Context) ([]*models.Product, error)
	CreateProduct(ctx context.Context, req models.DummyProduct) (*models.Product, error)
	UpdateProduct(ctx context.Context, id string, req models.DummyProduct) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListArtifacts(ctx context.Context) ([]*models.ArtifactStats, error)
	CreateArtifact(ctx context.Context, req models.DummyArtifact) (*models.Artifact, error)
	UpdateArtifact(ctx context.Context, id string, req models.DummyArtifact) (*models.Artifact, error)
	SetArtifactActive(ctx context.Context, id string, active bool) error
	DeleteArtifact(ctx context.Context, id string) error
	ListDownloadUsage(ctx context.Context, artifactID string) ([]*models.DownloadUsage, error)

	AssignProduct(ctx context.Context, adminID string, req models.DummyAssignment) (bool, error)
	RemoveAssignment(ctx context.Context, id string) error
	ListAssignments(ctx context.Context, userID string) ([]*models.Assignment, error)
	ListUsers(ctx context.Context, limit, offset int) ([]*models.ProfileWithProducts, error)

	ResetUserDownloads(ctx context.Context, userID, artifactID string) (int, error)
	ResetArtifactDownloads(ctx context.Context, artifactID string) (int, error)
}

// DummyToggle тело запроса на включение или скрытие артефакта.
type DummyToggle struct {
	IsActive bool `json:"is_active"`
}

// Handler обработчики админки.
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

func (h *Handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, adminsvc.ErrNotFound):
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "not found")
	case errors.Is(err, adminsvc.ErrConflict):
		response.Fail(w, r, http.StatusConflict, response.CodeConflict, "already exists")
	case errors.Is(err, adminsvc.ErrUnknownProduct):
		response.Fail(w, r, http.StatusUnprocessableEntity, response.CodeValidation, "unknown product code")
	default:
		log.Error("admin operation failed", sl.Err(err))
		response.Fail(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error")
	}
}

// pathID читает UUID из пути. Невалидный UUID считается несуществующей записью.
func pathID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Fail(w, r, http.StatusNotFound, response.CodeNotFound, "not found")
		return "", false
	}
	return id.String(), true
}

// decode читает и валидирует тело запроса.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		log.Warn("failed to decode request", sl.Err(err))
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			log.Warn("validation failed", sl.Err(err))
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationError(verrs))
			return false
		}
		response.Fail(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body")
		return false
	}
	return true
}

// ListProducts godoc
// @Summary Каталог продуктов
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=[]models.Product}
// @Failure 403 {object} response.ErrorResponse
// @Router /admin/products [get]
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListProducts")
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(products))
}

// CreateProduct godoc
// @Summary Создать продукт
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DummyProduct true "Продукт"
// @Success 201 {object} response.OKResponse{data=models.Product}
// @Failure 409 {object} response.ErrorResponse "Код уже занят"
// @Failure 422 {object} response.ErrorResponse
// @Router /admin/products [post]
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.CreateProduct")
	var req models.DummyProduct
	if !h.decode(w, r, log, &req) {
		return
	}
	p, err := h.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(p))
}

// UpdateProduct godoc
// @Summary Изменить продукт
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID продукта"
// @Param request body models.DummyProduct true "Продукт"
// @Success 200 {object} response.OKResponse{data=models.Product}
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/products/{id} [put]
func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.UpdateProduct")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.DummyProduct
	if !h.decode(w, r, log, &req) {
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), id, req)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(p))
}

// DeleteProduct godoc
// @Summary Удалить продукт
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "ID продукта"
// @Success 204
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/products/{id} [delete]
func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.DeleteProduct")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, r, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListArtifacts godoc
// @Summary Артефакты с зеркалами и общим числом загрузок
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.OKResponse{data=[]models.ArtifactStats}
// @Router /admin/artifacts [get]
func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListArtifacts")
	artifacts, err := h.service.ListArtifacts(r.Context())
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(artifacts))
}

// CreateArtifact godoc
// @Summary Создать артефакт
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DummyArtifact true "Артефакт с зеркалами"
// @Success 201 {object} response.OKResponse{data=models.Artifact}
// @Failure 422 {object} response.ErrorResponse
// @Router /admin/artifacts [post]
func (h *Handler) CreateArtifact(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.CreateArtifact")
	var req models.DummyArtifact
	if !h.decode(w, r, log, &req) {
		return
	}
	a, err := h.service.CreateArtifact(r.Context(), req)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response.OKWithData(a))
}

// UpdateArtifact godoc
// @Summary Изменить артефакт и заменить зеркала
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Param request body models.DummyArtifact true "Артефакт с зеркалами"
// @Success 200 {object} response.OKResponse{data=models.Artifact}
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse "Неизвестный код продукта"
// @Router /admin/artifacts/{id} [put]
func (h *Handler) UpdateArtifact(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.UpdateArtifact")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.DummyArtifact
	if !h.decode(w, r, log, &req) {
		return
	}
	a, err := h.service.UpdateArtifact(r.Context(), id, req)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(a))
}

// ToggleArtifact godoc
// @Summary Включить или скрыть артефакт
// @Tags Admin
// @Accept json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Param request body DummyToggle true "Флаг активности"
// @Success 204
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/artifacts/{id}/active [patch]
func (h *Handler) ToggleArtifact(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ToggleArtifact")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req DummyToggle
	if !h.decode(w, r, log, &req) {
		return
	}
	if err := h.service.SetArtifactActive(r.Context(), id, req.IsActive); err != nil {
		writeError(w, r, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteArtifact godoc
// @Summary Удалить артефакт
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Success 204
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/artifacts/{id} [delete]
func (h *Handler) DeleteArtifact(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.DeleteArtifact")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteArtifact(r.Context(), id); err != nil {
		writeError(w, r, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListDownloadUsage godoc
// @Summary Загрузки артефакта по пользователям
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Success 200 {object} response.OKResponse{data=[]models.DownloadUsage}
// @Router /admin/artifacts/{id}/downloads [get]
func (h *Handler) ListDownloadUsage(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListDownloadUsage")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	usage, err := h.service.ListDownloadUsage(r.Context(), id)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(usage))
}

// ResetArtifactDownloads godoc
// @Summary Сбросить лимит всем пользователям артефакта
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Success 200 {object} response.OKResponse
// @Router /admin/artifacts/{id}/reset [post]
func (h *Handler) ResetArtifactDownloads(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ResetArtifactDownloads")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	users, err := h.service.ResetArtifactDownloads(r.Context(), id)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	log.Info("artifact downloads reset", slog.String("artifact_id", id), slog.Int("users", users))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"users_reset": users,
	}))
}

// ResetUserDownloads godoc
// @Summary Сбросить лимит одному пользователю
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID артефакта"
// @Param userID path string true "ID пользователя"
// @Success 200 {object} response.OKResponse
// @Router /admin/artifacts/{id}/reset/{userID} [post]
func (h *Handler) ResetUserDownloads(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ResetUserDownloads")
	artifactID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	n, err := h.service.ResetUserDownloads(r.Context(), userID, artifactID)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	log.Info("user downloads reset", slog.String("artifact_id", artifactID),
		slog.String("user_id", userID), slog.Int("deleted", n))
	render.JSON(w, r, response.OKWithData(map[string]any{
		"records_deleted": n,
	}))
}

// ListUsers godoc
// @Summary Пользователи с кодами продуктов
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Лимит"
// @Param offset query int false "Смещение"
// @Success 200 {object} response.OKResponse{data=[]models.ProfileWithProducts}
// @Router /admin/users [get]
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListUsers")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(users))
}

// ListAssignments godoc
// @Summary Назначения пользователя
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userID path string true "ID пользователя"
// @Success 200 {object} response.OKResponse{data=[]models.Assignment}
// @Router /admin/users/{userID}/assignments [get]
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.ListAssignments")
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	assignments, err := h.service.ListAssignments(r.Context(), userID)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	render.JSON(w, r, response.OKWithData(assignments))
}

// AssignProduct godoc
// @Summary Выдать продукт пользователю
// @Description Повторная выдача не ошибка: ответ 200 с created=false.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.DummyAssignment true "Назначение"
// @Success 200 {object} response.OKResponse
// @Success 201 {object} response.OKResponse
// @Failure 404 {object} response.ErrorResponse "Пользователь не найден"
// @Failure 422 {object} response.ErrorResponse "Неизвестный продукт"
// @Router /admin/assignments [post]
func (h *Handler) AssignProduct(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.AssignProduct")
	var req models.DummyAssignment
	if !h.decode(w, r, log, &req) {
		return
	}

	var adminID string
	if profile, ok := middlewarectx.ProfileFromContext(r.Context()); ok {
		adminID = profile.ID
	}
	created, err := h.service.AssignProduct(r.Context(), adminID, req)
	if err != nil {
		writeError(w, r, log, err)
		return
	}
	if created {
		render.Status(r, http.StatusCreated)
	}
	render.JSON(w, r, response.OKWithData(map[string]any{
		"created": created,
	}))
}

// RemoveAssignment godoc
// @Summary Удалить назначение
// @Tags Admin
// @Security BearerAuth
// @Param id path string true "ID назначения"
// @Success 204
// @Failure 404 {object} response.ErrorResponse
// @Router /admin/assignments/{id} [delete]
func (h *Handler) RemoveAssignment(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r, "handlers.admin.RemoveAssignment")
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.RemoveAssignment(r.Context(), id); err != nil {
		writeError(w, r, log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
