// Package entitlement вычисляет уровень доступа пользователя к разделам портала
// и выдаёт продукты новым пользователям.
package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/metrics"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

// Источники выдачи продукта.
const (
	SourceOnboarding = "onboarding"
	SourceCheckout   = "checkout"
	SourceAdmin      = "admin"
)

var (
	// ErrNoProfile операция вызвана без профиля пользователя.
	ErrNoProfile = errors.New("profile is required")
	// ErrUnknownProduct продукта с таким кодом нет в каталоге.
	ErrUnknownProduct = errors.New("unknown product code")
	// ErrAlreadyClassified у пользователя уже есть продукт, онбординг пройден.
	ErrAlreadyClassified = errors.New("user already holds a product")
)

// Repository определяет методы хранилища, нужные резолверу.
type Repository interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
	ListAssignedProductCodes(ctx context.Context, userID string) ([]string, error)
	HasAssignment(ctx context.Context, userID, code string) (bool, error)
	CreateAssignment(ctx context.Context, entry models.NewAssignment) (*models.Assignment, error)
}

// Cache описывает методы кэша.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// PassphraseMatcher сверяет введённую кодовую фразу с общей.
type PassphraseMatcher interface {
	Match(input string) bool
}

// Resolver вычисляет AccessLevel и управляет выдачей продуктов.
type Resolver struct {
	repo      Repository
	cache     Cache
	publisher Publisher
	matcher   PassphraseMatcher
	metrics   *metrics.Metrics
	log       *slog.Logger
	cacheTTL  time.Duration
}

// NewResolver создает новый экземпляр Resolver.
func NewResolver(repo Repository, cache Cache, publisher Publisher, matcher PassphraseMatcher,
	m *metrics.Metrics, log *slog.Logger, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		matcher:   matcher,
		metrics:   m,
		log:       log,
		cacheTTL:  cacheTTL,
	}
}

// AccessCacheKey ключ кэша кодов продуктов пользователя.
func AccessCacheKey(userID string) string {
	return fmt.Sprintf("access:products:%s", userID)
}

// DeriveAccessLevel строит набор флагов по статусу подписки и кодам продуктов.
func DeriveAccessLevel(status models.SubscriptionStatus, codes []string) models.AccessLevel {
	normalized := slices.Clone(codes)
	slices.Sort(normalized)
	normalized = slices.Compact(normalized)
	if normalized == nil {
		normalized = []string{}
	}

	active := status == models.StatusActive
	level := models.AccessLevel{
		HasActiveSubscription: active,
		HasAlphaStrategy:      slices.Contains(normalized, models.ProductCodeAlphaStrategy),
		HasAlphaLite:          slices.Contains(normalized, models.ProductCodeAlphaLite),
		HasAnyProduct:         len(normalized) > 0,
		CanAccessApps:         active,
		CanAccessSupport:      active,
		ProductCodes:          normalized,
	}
	level.CanAccessDownloads = level.HasAnyProduct
	return level
}

// DecideTier выбирает уровень при онбординге. Без заявления о покупке выдаётся lite,
// с заявлением и верной кодовой фразой strategy, при неверной фразе снова lite.
func DecideTier(claimsPriorPurchase bool, passphrase string, matcher PassphraseMatcher) models.Tier {
	if !claimsPriorPurchase || matcher == nil {
		return models.TierLite
	}
	if matcher.Match(strings.TrimSpace(passphrase)) {
		return models.TierStrategy
	}
	return models.TierLite
}

// ComputeAccessLevel возвращает уровень доступа пользователя.
// Ошибки не возвращаются: при сбое хранилища результат закрыт по всем флагам.
func (r *Resolver) ComputeAccessLevel(ctx context.Context, profile *models.Profile) models.AccessLevel {
	const op = "entitlement.ComputeAccessLevel"
	if profile == nil {
		return models.AccessLevel{ProductCodes: []string{}}
	}
	level, err := r.Resolve(ctx, profile)
	if err != nil {
		r.log.Error("access resolution failed, denying access", slog.String("op", op),
			slog.String("user_id", profile.ID), sl.Err(err))
		r.metrics.AccessResolutionFailed()
		return models.AccessLevel{ProductCodes: []string{}}
	}
	return level
}

// Resolve то же, что ComputeAccessLevel, но с ошибкой хранилища для вызывающего.
func (r *Resolver) Resolve(ctx context.Context, profile *models.Profile) (models.AccessLevel, error) {
	const op = "entitlement.Resolve"
	if profile == nil {
		return models.AccessLevel{}, fmt.Errorf("%s: %w", op, ErrNoProfile)
	}
	codes, err := r.productCodes(ctx, profile.ID)
	if err != nil {
		return models.AccessLevel{}, fmt.Errorf("%s: %w", op, err)
	}
	return DeriveAccessLevel(profile.SubscriptionStatus, codes), nil
}

func (r *Resolver) productCodes(ctx context.Context, userID string) ([]string, error) {
	key := AccessCacheKey(userID)
	var codes []string
	found, err := r.cache.Get(ctx, key, &codes)
	if err != nil {
		r.log.Warn("failed to read access cache", slog.String("key", key), sl.Err(err))
	}
	if found && err == nil {
		return codes, nil
	}

	codes, err = r.repo.ListAssignedProductCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, key, codes, r.cacheTTL); err != nil {
		r.log.Warn("failed to cache product codes", slog.String("key", key), sl.Err(err))
	}
	return codes, nil
}

// ClassifyNewUser отвечает на вопрос онбординга: выбирает уровень и выдаёт продукт.
// Доступно только пользователю без назначений, иначе ErrAlreadyClassified.
// Назначения читаются из хранилища, а не из кэша.
func (r *Resolver) ClassifyNewUser(ctx context.Context, profile *models.Profile, req models.DummyOnboarding) (models.Grant, error) {
	const op = "entitlement.ClassifyNewUser"
	if profile == nil {
		return models.Grant{}, fmt.Errorf("%s: %w", op, ErrNoProfile)
	}

	codes, err := r.repo.ListAssignedProductCodes(ctx, profile.ID)
	if err != nil {
		return models.Grant{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(codes) > 0 {
		r.log.Info("onboarding refused, user already holds products",
			slog.String("user_id", profile.ID), slog.Any("product_codes", codes))
		return models.Grant{}, fmt.Errorf("%s: %w", op, ErrAlreadyClassified)
	}

	tier := DecideTier(req.ClaimsPriorPurchase, req.Passphrase, r.matcher)
	if req.ClaimsPriorPurchase && tier == models.TierLite {
		r.log.Info("passphrase mismatch, falling back to lite", slog.String("user_id", profile.ID))
	}

	created, err := r.Assign(ctx, profile, models.NewAssignment{
		UserID:      profile.ID,
		ProductCode: tier.ProductCode(),
	}, SourceOnboarding)
	if err != nil {
		return models.Grant{}, fmt.Errorf("%s: %w", op, err)
	}
	return models.Grant{Tier: tier, ProductCode: tier.ProductCode(), Created: created}, nil
}

// AssignDefault выдаёт alpha_lite после оплаты. Повторный вызов ничего не меняет.
func (r *Resolver) AssignDefault(ctx context.Context, userID string) (bool, error) {
	const op = "entitlement.AssignDefault"
	profile, err := r.repo.GetProfile(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	created, err := r.Assign(ctx, profile, models.NewAssignment{
		UserID:      profile.ID,
		ProductCode: models.ProductCodeAlphaLite,
	}, SourceCheckout)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return created, nil
}

// Assign создаёт назначение, если его ещё нет. Гонка двух вставок не ошибка:
// проигравшая получает нарушение уникальности и возвращает created=false.
func (r *Resolver) Assign(ctx context.Context, profile *models.Profile, entry models.NewAssignment, source string) (bool, error) {
	const op = "entitlement.Assign"
	log := r.log.With(slog.String("op", op), slog.String("user_id", entry.UserID),
		slog.String("product_code", entry.ProductCode))

	exists, err := r.repo.HasAssignment(ctx, entry.UserID, entry.ProductCode)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if exists {
		log.Debug("assignment already exists")
		return false, nil
	}

	a, err := r.repo.CreateAssignment(ctx, entry)
	switch {
	case errors.Is(err, storage.ErrConflict):
		log.Debug("assignment created concurrently")
		return false, nil
	case errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("%s: %w", op, ErrUnknownProduct)
	case err != nil:
		return false, fmt.Errorf("%s: %w", op, err)
	}

	r.InvalidateAccess(ctx, entry.UserID)
	r.metrics.AssignmentCreated(entry.ProductCode, source)
	log.Info("product assigned", slog.String("source", source))

	event := models.ProductAssignedEvent{
		UserID:      entry.UserID,
		ProductCode: entry.ProductCode,
		Source:      source,
		AssignedAt:  a.AssignedAt,
	}
	if profile != nil {
		event.Email = profile.Email
	}
	if err := r.publisher.Publish(ctx, models.EventProductAssigned, event); err != nil {
		log.Warn("failed to publish product assigned event", sl.Err(err))
	}
	return true, nil
}

// InvalidateAccess сбрасывает кэш кодов продуктов пользователя.
func (r *Resolver) InvalidateAccess(ctx context.Context, userID string) {
	key := AccessCacheKey(userID)
	if err := r.cache.Invalidate(ctx, key); err != nil {
		r.log.Warn("failed to invalidate access cache", slog.String("key", key), sl.Err(err))
	}
}
