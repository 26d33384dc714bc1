package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

// fakeStore хранилище в памяти с той же семантикой условной вставки,
// что и у PostgreSQL: номер попытки равен count+1, уникальный ключ
// (user, artifact, attempt_no) отклоняет параллельный дубль.
type fakeStore struct {
	mu        sync.Mutex
	artifacts map[string]*models.Artifact
	records   map[string][]models.DownloadRecord

	// barrier если задан, RecordDownload ждёт на нём после подсчёта,
	// чтобы воспроизвести одновременное прохождение проверки.
	barrier *sync.WaitGroup

	getErr    error
	countErr  error
	recordErr error

	countCalls  int
	recordCalls int
}

func newFakeStore(artifacts ...*models.Artifact) *fakeStore {
	s := &fakeStore{
		artifacts: map[string]*models.Artifact{},
		records:   map[string][]models.DownloadRecord{},
	}
	for _, a := range artifacts {
		s.artifacts[a.ID] = a
	}
	return s
}

func pairKey(userID, artifactID string) string {
	return userID + "/" + artifactID
}

func (s *fakeStore) GetArtifact(_ context.Context, id string) (*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	a, ok := s.artifacts[id]
	if !ok {
		return nil, fmt.Errorf("storage.GetArtifact: %w", storage.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) ListArtifacts(_ context.Context, activeOnly bool) ([]*models.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	var out []*models.Artifact
	for _, a := range s.artifacts {
		if activeOnly && !a.IsActive {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *fakeStore) CountDownloads(_ context.Context, userID, artifactID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.countCalls++
	if s.countErr != nil {
		return 0, s.countErr
	}
	return len(s.records[pairKey(userID, artifactID)]), nil
}

func (s *fakeStore) CountDownloadsByUser(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return nil, s.countErr
	}
	out := map[string]int{}
	for id := range s.artifacts {
		if n := len(s.records[pairKey(userID, id)]); n > 0 {
			out[id] = n
		}
	}
	return out, nil
}

func (s *fakeStore) RecordDownload(_ context.Context, rec models.NewDownloadRecord, limit int) (*models.DownloadRecord, error) {
	s.mu.Lock()
	s.recordCalls++
	if s.recordErr != nil {
		s.mu.Unlock()
		return nil, s.recordErr
	}
	key := pairKey(rec.UserID, rec.ArtifactID)
	count := len(s.records[key])
	barrier := s.barrier
	s.mu.Unlock()

	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}

	if count >= limit {
		return nil, fmt.Errorf("storage.RecordDownload: %w", storage.ErrLimitReached)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.records[key] {
		if existing.AttemptNo == count+1 {
			return nil, fmt.Errorf("storage.RecordDownload: %w", storage.ErrConflict)
		}
	}
	out := models.DownloadRecord{
		ID:           fmt.Sprintf("rec-%d", len(s.records[key])+1),
		UserID:       rec.UserID,
		ArtifactID:   rec.ArtifactID,
		LinkID:       rec.LinkID,
		AttemptNo:    count + 1,
		DownloadedAt: time.Now(),
	}
	s.records[key] = append(s.records[key], out)
	return &out, nil
}

// resetArtifact повторяет админский сброс: удаляет записи и возвращает затронутых пользователей.
func (s *fakeStore) resetArtifact(artifactID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var users []string
	for key, recs := range s.records {
		if len(recs) > 0 && recs[0].ArtifactID == artifactID {
			users = append(users, recs[0].UserID)
			delete(s.records, key)
		}
	}
	return users
}

func (s *fakeStore) recordCount(userID, artifactID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records[pairKey(userID, artifactID)])
}

// memCache кэш в памяти с JSON-значениями, как у Redis-реализации.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string, result any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, result)
}

func (c *memCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *memCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

// staticAccess выдаёт заранее заданный набор кодов продуктов.
type staticAccess struct {
	codes []string
	err   error
}

func (s staticAccess) Resolve(_ context.Context, profile *models.Profile) (models.AccessLevel, error) {
	if s.err != nil {
		return models.AccessLevel{}, s.err
	}
	return models.AccessLevel{
		HasActiveSubscription: profile.SubscriptionStatus == models.StatusActive,
		HasAnyProduct:         len(s.codes) > 0,
		CanAccessDownloads:    len(s.codes) > 0,
		ProductCodes:          s.codes,
	}, nil
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var errStoreDown = errors.New("connection refused")

func strategyArtifact(limit int) *models.Artifact {
	label := "primary"
	return &models.Artifact{
		ID:            "art-1",
		ProductID:     "prod-1",
		ProductCode:   models.ProductCodeAlphaStrategy,
		Name:          "Alpha Strategy",
		Version:       "2.1.0",
		DownloadLimit: limit,
		IsActive:      true,
		Links: []models.ArtifactLink{
			{ID: "link-1", ArtifactID: "art-1", URL: "https://cdn.example.com/a.zip", Label: &label, Position: 0},
			{ID: "link-2", ArtifactID: "art-1", URL: "https://mirror.example.com/a.zip", Position: 1},
		},
	}
}
