// Package ledger ведёт учёт загрузок: проверяет права на артефакт и лимит,
// атомарно записывает попытку и выдаёт ссылку на зеркало.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/traders-portal/internal/lib/sl"
	"github.com/magabrotheeeer/traders-portal/internal/metrics"
	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

var (
	ErrNoProfile               = errors.New("profile is required")
	ErrArtifactNotFound        = errors.New("artifact not found")
	ErrLinkNotFound            = errors.New("download link not found")
	ErrLocked                  = errors.New("product required for this download is not assigned")
	ErrLimitReached            = errors.New("download limit reached")
	ErrAcknowledgementRequired = errors.New("installation requirements must be acknowledged")
	ErrAlreadyDownloaded       = errors.New("download already recorded")
	ErrUnavailable             = errors.New("download service temporarily unavailable")
)

// Repository определяет методы хранилища, нужные журналу загрузок.
type Repository interface {
	GetArtifact(ctx context.Context, id string) (*models.Artifact, error)
	ListArtifacts(ctx context.Context, activeOnly bool) ([]*models.Artifact, error)
	CountDownloads(ctx context.Context, userID, artifactID string) (int, error)
	CountDownloadsByUser(ctx context.Context, userID string) (map[string]int, error)
	RecordDownload(ctx context.Context, rec models.NewDownloadRecord, limit int) (*models.DownloadRecord, error)
}

// AccessResolver даёт факты о продуктах пользователя.
type AccessResolver interface {
	Resolve(ctx context.Context, profile *models.Profile) (models.AccessLevel, error)
}

// Cache описывает методы кэша счётчиков.
type Cache interface {
	Get(ctx context.Context, key string, result any) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Publisher публикует доменные события.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// AttemptRequest попытка загрузки артефакта через выбранное зеркало.
// Пустой LinkID означает первое зеркало.
type AttemptRequest struct {
	ArtifactID   string
	LinkID       string
	Acknowledged bool
}

// Ledger журнал загрузок.
type Ledger struct {
	repo       Repository
	access     AccessResolver
	cache      Cache
	publisher  Publisher
	metrics    *metrics.Metrics
	log        *slog.Logger
	counterTTL time.Duration
}

// New создает новый экземпляр Ledger.
func New(repo Repository, access AccessResolver, cache Cache, publisher Publisher,
	m *metrics.Metrics, log *slog.Logger, counterTTL time.Duration) *Ledger {
	return &Ledger{
		repo:       repo,
		access:     access,
		cache:      cache,
		publisher:  publisher,
		metrics:    m,
		log:        log,
		counterTTL: counterTTL,
	}
}

// CounterCacheKey ключ кэша счётчика загрузок пары (пользователь, артефакт).
func CounterCacheKey(userID, artifactID string) string {
	return fmt.Sprintf("downloads:count:%s:%s", userID, artifactID)
}

// unavailable помечает сбой хранилища как повторяемую ошибку, сохраняя причину.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// AttemptDownload проверяет права и лимит, требует подтверждения и записывает загрузку.
// Предварительная проверка по счётчику только совещательная, окончательное решение
// принимает условная вставка в хранилище.
func (l *Ledger) AttemptDownload(ctx context.Context, profile *models.Profile, req AttemptRequest) (*models.AttemptResult, error) {
	const op = "ledger.AttemptDownload"
	if profile == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoProfile)
	}
	log := l.log.With(slog.String("op", op), slog.String("user_id", profile.ID),
		slog.String("artifact_id", req.ArtifactID))

	artifact, err := l.activeArtifact(ctx, req.ArtifactID)
	if err != nil {
		l.outcome(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	link, ok := artifact.Link(req.LinkID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrLinkNotFound)
	}

	access, err := l.access.Resolve(ctx, profile)
	if err != nil {
		l.metrics.DownloadAttempt(metrics.OutcomeUnavailable)
		return nil, unavailable(op, err)
	}
	if !access.HasProduct(artifact.ProductCode) {
		l.metrics.DownloadAttempt(metrics.OutcomeLocked)
		return nil, fmt.Errorf("%s: %w", op, ErrLocked)
	}

	used, err := l.used(ctx, profile.ID, artifact.ID)
	if err != nil {
		l.metrics.DownloadAttempt(metrics.OutcomeUnavailable)
		return nil, unavailable(op, err)
	}
	if used >= artifact.DownloadLimit {
		l.metrics.DownloadAttempt(metrics.OutcomeLimitReached)
		return nil, fmt.Errorf("%s: %w", op, ErrLimitReached)
	}

	if !req.Acknowledged {
		l.metrics.DownloadAttempt(metrics.OutcomeAckRequired)
		return nil, fmt.Errorf("%s: %w", op, ErrAcknowledgementRequired)
	}

	linkID := link.ID
	rec, err := l.repo.RecordDownload(ctx, models.NewDownloadRecord{
		UserID:     profile.ID,
		ArtifactID: artifact.ID,
		LinkID:     &linkID,
	}, artifact.DownloadLimit)
	switch {
	case errors.Is(err, storage.ErrLimitReached):
		l.setCounter(ctx, profile.ID, artifact.ID, artifact.DownloadLimit)
		l.metrics.DownloadAttempt(metrics.OutcomeLimitReached)
		return nil, fmt.Errorf("%s: %w", op, ErrLimitReached)
	case errors.Is(err, storage.ErrConflict):
		l.invalidateCounter(ctx, profile.ID, artifact.ID)
		l.metrics.DownloadAttempt(metrics.OutcomeAlreadyDownloaded)
		log.Info("concurrent attempt already recorded")
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyDownloaded)
	case err != nil:
		l.metrics.DownloadAttempt(metrics.OutcomeUnavailable)
		log.Error("failed to record download", sl.Err(err))
		return nil, unavailable(op, err)
	}

	l.setCounter(ctx, profile.ID, artifact.ID, rec.AttemptNo)
	l.metrics.DownloadAttempt(metrics.OutcomeRecorded)
	log.Info("download recorded", slog.Int("attempt_no", rec.AttemptNo), slog.String("link_id", link.ID))

	event := models.DownloadRecordedEvent{
		UserID:       profile.ID,
		ArtifactID:   artifact.ID,
		LinkID:       link.ID,
		AttemptNo:    rec.AttemptNo,
		DownloadedAt: rec.DownloadedAt,
	}
	if err := l.publisher.Publish(ctx, models.EventDownloadRecorded, event); err != nil {
		log.Warn("failed to publish download recorded event", sl.Err(err))
	}

	return &models.AttemptResult{
		URL:          link.URL,
		LinkID:       link.ID,
		Used:         rec.AttemptNo,
		Remaining:    max(artifact.DownloadLimit-rec.AttemptNo, 0),
		DownloadedAt: rec.DownloadedAt,
	}, nil
}

// Status возвращает состояние артефакта для пользователя.
func (l *Ledger) Status(ctx context.Context, profile *models.Profile, artifactID string) (*models.ArtifactView, error) {
	const op = "ledger.Status"
	if profile == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoProfile)
	}

	artifact, err := l.activeArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	access, err := l.access.Resolve(ctx, profile)
	if err != nil {
		return nil, unavailable(op, err)
	}
	used, err := l.used(ctx, profile.ID, artifact.ID)
	if err != nil {
		return nil, unavailable(op, err)
	}
	view := buildView(artifact, access, used)
	return &view, nil
}

// List возвращает все активные артефакты с состоянием для пользователя.
func (l *Ledger) List(ctx context.Context, profile *models.Profile) ([]models.ArtifactView, error) {
	const op = "ledger.List"
	if profile == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrNoProfile)
	}

	artifacts, err := l.repo.ListArtifacts(ctx, true)
	if err != nil {
		return nil, unavailable(op, err)
	}
	access, err := l.access.Resolve(ctx, profile)
	if err != nil {
		return nil, unavailable(op, err)
	}
	counts, err := l.repo.CountDownloadsByUser(ctx, profile.ID)
	if err != nil {
		return nil, unavailable(op, err)
	}

	views := make([]models.ArtifactView, 0, len(artifacts))
	for _, a := range artifacts {
		views = append(views, buildView(a, access, counts[a.ID]))
	}
	return views, nil
}

// StateOf вычисляет состояние пары по фактам о продуктах и счётчику.
func StateOf(artifact *models.Artifact, access models.AccessLevel, used int) models.DownloadState {
	switch {
	case !access.HasProduct(artifact.ProductCode):
		return models.DownloadLocked
	case used >= artifact.DownloadLimit:
		return models.DownloadLimitReached
	default:
		return models.DownloadEligible
	}
}

// buildView скрывает URL зеркал: ссылка выдаётся только через AttemptDownload.
func buildView(artifact *models.Artifact, access models.AccessLevel, used int) models.ArtifactView {
	a := *artifact
	a.Links = make([]models.ArtifactLink, len(artifact.Links))
	for i, link := range artifact.Links {
		link.URL = ""
		a.Links[i] = link
	}
	return models.ArtifactView{
		Artifact:  a,
		State:     StateOf(artifact, access, used),
		Used:      used,
		Remaining: max(artifact.DownloadLimit-used, 0),
	}
}

func (l *Ledger) activeArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	artifact, err := l.repo.GetArtifact(ctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrArtifactNotFound
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !artifact.IsActive {
		return nil, ErrArtifactNotFound
	}
	return artifact, nil
}

// used читает счётчик из кэша, при промахе из хранилища.
func (l *Ledger) used(ctx context.Context, userID, artifactID string) (int, error) {
	key := CounterCacheKey(userID, artifactID)
	var n int
	found, err := l.cache.Get(ctx, key, &n)
	if err != nil {
		l.log.Warn("failed to read download counter", slog.String("key", key), sl.Err(err))
	}
	if found && err == nil {
		return n, nil
	}

	n, err = l.repo.CountDownloads(ctx, userID, artifactID)
	if err != nil {
		return 0, err
	}
	l.setCounter(ctx, userID, artifactID, n)
	return n, nil
}

func (l *Ledger) setCounter(ctx context.Context, userID, artifactID string, n int) {
	key := CounterCacheKey(userID, artifactID)
	if err := l.cache.Set(ctx, key, n, l.counterTTL); err != nil {
		l.log.Warn("failed to cache download counter", slog.String("key", key), sl.Err(err))
	}
}

func (l *Ledger) invalidateCounter(ctx context.Context, userID, artifactID string) {
	key := CounterCacheKey(userID, artifactID)
	if err := l.cache.Invalidate(ctx, key); err != nil {
		l.log.Warn("failed to invalidate download counter", slog.String("key", key), sl.Err(err))
	}
}

func (l *Ledger) outcome(err error) {
	switch {
	case errors.Is(err, ErrArtifactNotFound):
		l.metrics.DownloadAttempt(metrics.OutcomeArtifactNotFound)
	case errors.Is(err, ErrUnavailable):
		l.metrics.DownloadAttempt(metrics.OutcomeUnavailable)
	}
}
