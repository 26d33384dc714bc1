// Package admin реализует операции админки: каталог продуктов и артефактов,
// ручные назначения продуктов и сброс лимитов загрузок.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/services/entitlement"
	"github.com/magabrotheeeer/traders-portal/internal/services/ledger"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("not found")
	// ErrConflict продукт с таким кодом уже существует.
	ErrConflict = errors.New("already exists")
	// ErrUnknownProduct продукта с таким кодом нет в каталоге.
	ErrUnknownProduct = errors.New("unknown product code")
)

const defaultUsersLimit = 100

// Repository определяет методы хранилища, нужные админке.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListProfiles(ctx context.Context, limit, offset int) ([]*models.ProfileWithProducts, error)

	ListProducts(ctx context.Context) ([]*models.Product, error)
	CreateProduct(ctx context.Context, entry models.DummyProduct) (*models.Product, error)
	UpdateProduct(ctx context.Context, id string, entry models.DummyProduct) (*models.Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListArtifactStats(ctx context.Context) ([]*models.ArtifactStats, error)
	CreateArtifact(ctx context.Context, entry models.DummyArtifact) (*models.Artifact, error)
	UpdateArtifact(ctx context.Context, id string, entry models.DummyArtifact) (*models.Artifact, error)
	SetArtifactActive(ctx context.Context, id string, active bool) error
	DeleteArtifact(ctx context.Context, id string) error

	ListAssignments(ctx context.Context, userID string) ([]*models.Assignment, error)
	DeleteAssignment(ctx context.Context, id string) (string, error)

	ResetUserDownloads(ctx context.Context, userID, artifactID string) (int, error)
	ResetArtifactDownloads(ctx context.Context, artifactID string) ([]string, error)
	ListDownloadUsage(ctx context.Context, artifactID string) ([]*models.DownloadUsage, error)
}

// Assigner выдаёт продукты и сбрасывает кэш доступа. Реализуется entitlement.Resolver.
type Assigner interface {
	Assign(ctx context.Context, profile *models.Profile, entry models.NewAssignment, source string) (bool, error)
	InvalidateAccess(ctx context.Context, userID string)
}

// Cache описывает методы кэша, которые нужны для сброса счётчиков.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Service сервис админки.
type Service struct {
	repo     Repository
	assigner Assigner
	cache    Cache
	log      *slog.Logger
}

// New создает новый экземпляр Service.
func New(repo Repository, assigner Assigner, cache Cache, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		assigner: assigner,
		cache:    cache,
		log:      log,
	}
}

// mapErr переводит ошибки хранилища в ошибки пакета.
func mapErr(op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case errors.Is(err, storage.ErrConflict):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	case errors.Is(err, storage.ErrUnknownProduct):
		return fmt.Errorf("%s: %w", op, ErrUnknownProduct)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// ListProducts возвращает каталог продуктов.
func (s *Service) ListProducts(ctx context.Context) ([]*models.Product, error) {
	const op = "admin.ListProducts"
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return products, nil
}

// CreateProduct добавляет продукт.
func (s *Service) CreateProduct(ctx context.Context, req models.DummyProduct) (*models.Product, error) {
	const op = "admin.CreateProduct"
	p, err := s.repo.CreateProduct(ctx, req)
	if err != nil {
		return nil, mapErr(op, err)
	}
	s.log.Info("product created", slog.String("op", op), slog.String("code", p.Code))
	return p, nil
}

// UpdateProduct изменяет продукт.
func (s *Service) UpdateProduct(ctx context.Context, id string, req models.DummyProduct) (*models.Product, error) {
	const op = "admin.UpdateProduct"
	p, err := s.repo.UpdateProduct(ctx, id, req)
	if err != nil {
		return nil, mapErr(op, err)
	}
	s.log.Info("product updated", slog.String("op", op), slog.String("id", id))
	return p, nil
}

// DeleteProduct удаляет продукт вместе с его назначениями и артефактами.
// Кэш доступа затронутых пользователей устаревает не дольше, чем на TTL кэша.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	const op = "admin.DeleteProduct"
	if err := s.repo.DeleteProduct(ctx, id); err != nil {
		return mapErr(op, err)
	}
	s.log.Info("product deleted", slog.String("op", op), slog.String("id", id))
	return nil
}

// ListArtifacts возвращает все артефакты с зеркалами и общим числом загрузок.
func (s *Service) ListArtifacts(ctx context.Context) ([]*models.ArtifactStats, error) {
	const op = "admin.ListArtifacts"
	artifacts, err := s.repo.ListArtifactStats(ctx)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return artifacts, nil
}

// CreateArtifact создаёт артефакт. Неизвестный код продукта даёт ErrUnknownProduct.
func (s *Service) CreateArtifact(ctx context.Context, req models.DummyArtifact) (*models.Artifact, error) {
	const op = "admin.CreateArtifact"
	a, err := s.repo.CreateArtifact(ctx, req)
	if err != nil {
		return nil, mapErr(op, err)
	}
	s.log.Info("artifact created", slog.String("op", op), slog.String("id", a.ID),
		slog.String("product_code", a.ProductCode), slog.Int("links", len(a.Links)))
	return a, nil
}

// UpdateArtifact заменяет поля и зеркала артефакта. Неизвестный код продукта
// даёт ErrUnknownProduct, отсутствующий артефакт ErrNotFound.
func (s *Service) UpdateArtifact(ctx context.Context, id string, req models.DummyArtifact) (*models.Artifact, error) {
	const op = "admin.UpdateArtifact"
	a, err := s.repo.UpdateArtifact(ctx, id, req)
	if err != nil {
		return nil, mapErr(op, err)
	}
	s.log.Info("artifact updated", slog.String("op", op), slog.String("id", id))
	return a, nil
}

// SetArtifactActive включает или скрывает артефакт.
func (s *Service) SetArtifactActive(ctx context.Context, id string, active bool) error {
	const op = "admin.SetArtifactActive"
	if err := s.repo.SetArtifactActive(ctx, id, active); err != nil {
		return mapErr(op, err)
	}
	s.log.Info("artifact toggled", slog.String("op", op), slog.String("id", id), slog.Bool("active", active))
	return nil
}

// DeleteArtifact удаляет артефакт.
func (s *Service) DeleteArtifact(ctx context.Context, id string) error {
	const op = "admin.DeleteArtifact"
	if err := s.repo.DeleteArtifact(ctx, id); err != nil {
		return mapErr(op, err)
	}
	s.log.Info("artifact deleted", slog.String("op", op), slog.String("id", id))
	return nil
}

// AssignProduct выдаёт продукт пользователю от имени администратора.
// Повторная выдача не ошибка, created будет false.
func (s *Service) AssignProduct(ctx context.Context, adminID string, req models.DummyAssignment) (bool, error) {
	const op = "admin.AssignProduct"
	profile, err := s.repo.GetProfile(ctx, req.UserID)
	if err != nil {
		return false, mapErr(op, err)
	}

	entry := models.NewAssignment{
		UserID:      profile.ID,
		ProductCode: req.ProductCode,
	}
	if adminID != "" {
		entry.AssignedBy = &adminID
	}
	if req.Notes != "" {
		entry.Notes = &req.Notes
	}

	created, err := s.assigner.Assign(ctx, profile, entry, entitlement.SourceAdmin)
	if errors.Is(err, entitlement.ErrUnknownProduct) {
		return false, fmt.Errorf("%s: %w", op, ErrUnknownProduct)
	}
	if err != nil {
		return false, mapErr(op, err)
	}
	return created, nil
}

// RemoveAssignment удаляет назначение и сбрасывает кэш доступа владельца.
func (s *Service) RemoveAssignment(ctx context.Context, id string) error {
	const op = "admin.RemoveAssignment"
	userID, err := s.repo.DeleteAssignment(ctx, id)
	if err != nil {
		return mapErr(op, err)
	}
	s.assigner.InvalidateAccess(ctx, userID)
	s.log.Info("assignment removed", slog.String("op", op), slog.String("id", id), slog.String("user_id", userID))
	return nil
}

// ListAssignments возвращает назначения пользователя.
func (s *Service) ListAssignments(ctx context.Context, userID string) ([]*models.Assignment, error) {
	const op = "admin.ListAssignments"
	assignments, err := s.repo.ListAssignments(ctx, userID)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return assignments, nil
}

// ListUsers возвращает профили с кодами продуктов.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*models.ProfileWithProducts, error) {
	const op = "admin.ListUsers"
	if limit <= 0 {
		limit = defaultUsersLimit
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.repo.ListProfiles(ctx, limit, offset)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return users, nil
}

// ResetUserDownloads обнуляет счётчик одного пользователя по артефакту.
func (s *Service) ResetUserDownloads(ctx context.Context, userID, artifactID string) (int, error) {
	const op = "admin.ResetUserDownloads"
	n, err := s.repo.ResetUserDownloads(ctx, userID, artifactID)
	if err != nil {
		return 0, mapErr(op, err)
	}
	s.invalidateCounters(ctx, artifactID, userID)
	s.log.Info("user downloads reset", slog.String("op", op), slog.String("user_id", userID),
		slog.String("artifact_id", artifactID), slog.Int("deleted", n))
	return n, nil
}

// ResetArtifactDownloads обнуляет счётчики всех пользователей по артефакту.
// Возвращает число затронутых пользователей.
func (s *Service) ResetArtifactDownloads(ctx context.Context, artifactID string) (int, error) {
	const op = "admin.ResetArtifactDownloads"
	users, err := s.repo.ResetArtifactDownloads(ctx, artifactID)
	if err != nil {
		return 0, mapErr(op, err)
	}
	s.invalidateCounters(ctx, artifactID, users...)
	s.log.Info("artifact downloads reset", slog.String("op", op),
		slog.String("artifact_id", artifactID), slog.Int("users", len(users)))
	return len(users), nil
}

// ListDownloadUsage возвращает загрузки артефакта по пользователям.
func (s *Service) ListDownloadUsage(ctx context.Context, artifactID string) ([]*models.DownloadUsage, error) {
	const op = "admin.ListDownloadUsage"
	usage, err := s.repo.ListDownloadUsage(ctx, artifactID)
	if err != nil {
		return nil, mapErr(op, err)
	}
	return usage, nil
}

func (s *Service) invalidateCounters(ctx context.Context, artifactID string, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		keys = append(keys, ledger.CounterCacheKey(id, artifactID))
	}
	if err := s.cache.Invalidate(ctx, keys...); err != nil {
		s.log.Warn("failed to invalidate download counters", slog.String("artifact_id", artifactID),
			slog.Int("keys", len(keys)), sl.Err(err))
	}
}
