package admin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/traders-portal/internal/models"
	"github.com/magabrotheeeer/traders-portal/internal/services/entitlement"
	"github.com/magabrotheeeer/traders-portal/internal/services/ledger"
	"github.com/magabrotheeeer/traders-portal/internal/storage"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	args := m.Called(ctx, userID)
	p, _ := args.Get(0).(*models.Profile)
	return p, args.Error(1)
}

func (m *RepoMock) ListProfiles(ctx context.Context, limit, offset int) ([]*models.ProfileWithProducts, error) {
	args := m.Called(ctx, limit, offset)
	p, _ := args.Get(0).([]*models.ProfileWithProducts)
	return p, args.Error(1)
}

func (m *RepoMock) ListProducts(ctx context.Context) ([]*models.Product, error) {
	args := m.Called(ctx)
	p, _ := args.Get(0).([]*models.Product)
	return p, args.Error(1)
}

func (m *RepoMock) CreateProduct(ctx context.Context, entry models.DummyProduct) (*models.Product, error) {
	args := m.Called(ctx, entry)
	p, _ := args.Get(0).(*models.Product)
	return p, args.Error(1)
}

func (m *RepoMock) UpdateProduct(ctx context.Context, id string, entry models.DummyProduct) (*models.Product, error) {
	args := m.Called(ctx, id, entry)
	p, _ := args.Get(0).(*models.Product)
	return p, args.Error(1)
}

func (m *RepoMock) DeleteProduct(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *RepoMock) ListArtifactStats(ctx context.Context) ([]*models.ArtifactStats, error) {
	args := m.Called(ctx)
	a, _ := args.Get(0).([]*models.ArtifactStats)
	return a, args.Error(1)
}

func (m *RepoMock) CreateArtifact(ctx context.Context, entry models.DummyArtifact) (*models.Artifact, error) {
	args := m.Called(ctx, entry)
	a, _ := args.Get(0).(*models.Artifact)
	return a, args.Error(1)
}

func (m *RepoMock) UpdateArtifact(ctx context.Context, id string, entry models.DummyArtifact) (*models.Artifact, error) {
	args := m.Called(ctx, id, entry)
	a, _ := args.Get(0).(*models.Artifact)
	return a, args.Error(1)
}

func (m *RepoMock) SetArtifactActive(ctx context.Context, id string, active bool) error {
	return m.Called(ctx, id, active).Error(0)
}

func (m *RepoMock) DeleteArtifact(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *RepoMock) ListAssignments(ctx context.Context, userID string) ([]*models.Assignment, error) {
	args := m.Called(ctx, userID)
	a, _ := args.Get(0).([]*models.Assignment)
	return a, args.Error(1)
}

func (m *RepoMock) DeleteAssignment(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *RepoMock) ResetUserDownloads(ctx context.Context, userID, artifactID string) (int, error) {
	args := m.Called(ctx, userID, artifactID)
	return args.Int(0), args.Error(1)
}

func (m *RepoMock) ResetArtifactDownloads(ctx context.Context, artifactID string) ([]string, error) {
	args := m.Called(ctx, artifactID)
	u, _ := args.Get(0).([]string)
	return u, args.Error(1)
}

func (m *RepoMock) ListDownloadUsage(ctx context.Context, artifactID string) ([]*models.DownloadUsage, error) {
	args := m.Called(ctx, artifactID)
	u, _ := args.Get(0).([]*models.DownloadUsage)
	return u, args.Error(1)
}

type AssignerMock struct{ mock.Mock }

func (m *AssignerMock) Assign(ctx context.Context, profile *models.Profile, entry models.NewAssignment, source string) (bool, error) {
	args := m.Called(ctx, profile, entry, source)
	return args.Bool(0), args.Error(1)
}

func (m *AssignerMock) InvalidateAccess(ctx context.Context, userID string) {
	m.Called(ctx, userID)
}

type CacheMock struct{ mock.Mock }

func (m *CacheMock) Invalidate(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func newService() (*Service, *RepoMock, *AssignerMock, *CacheMock) {
	repo := new(RepoMock)
	assigner := new(AssignerMock)
	cache := new(CacheMock)
	return New(repo, assigner, cache, newNoopLogger()), repo, assigner, cache
}

func TestService_AssignProduct(t *testing.T) {
	ctx := context.Background()
	profile := &models.Profile{ID: "user-1", Email: "trader@example.com"}

	t.Run("records admin and notes", func(t *testing.T) {
		svc, repo, assigner, _ := newService()
		repo.On("GetProfile", ctx, "user-1").Return(profile, nil)
		assigner.On("Assign", ctx, profile, mock.MatchedBy(func(e models.NewAssignment) bool {
			return e.UserID == "user-1" && e.ProductCode == models.ProductCodeAlphaStrategy &&
				e.AssignedBy != nil && *e.AssignedBy == "admin-1" &&
				e.Notes != nil && *e.Notes == "compra por transferencia"
		}), entitlement.SourceAdmin).Return(true, nil)

		created, err := svc.AssignProduct(ctx, "admin-1", models.DummyAssignment{
			UserID: "user-1", ProductCode: models.ProductCodeAlphaStrategy, Notes: "compra por transferencia",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assigner.AssertExpectations(t)
	})

	t.Run("repeat assignment is not an error", func(t *testing.T) {
		svc, repo, assigner, _ := newService()
		repo.On("GetProfile", ctx, "user-1").Return(profile, nil)
		assigner.On("Assign", ctx, profile, mock.Anything, entitlement.SourceAdmin).Return(false, nil)

		created, err := svc.AssignProduct(ctx, "admin-1", models.DummyAssignment{UserID: "user-1", ProductCode: models.ProductCodeAlphaLite})
		require.NoError(t, err)
		assert.False(t, created)
	})

	t.Run("unknown user", func(t *testing.T) {
		svc, repo, assigner, _ := newService()
		repo.On("GetProfile", ctx, "ghost").Return(nil, storage.ErrNotFound)

		_, err := svc.AssignProduct(ctx, "admin-1", models.DummyAssignment{UserID: "ghost", ProductCode: models.ProductCodeAlphaLite})
		assert.ErrorIs(t, err, ErrNotFound)
		assigner.AssertNotCalled(t, "Assign", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown product", func(t *testing.T) {
		svc, repo, assigner, _ := newService()
		repo.On("GetProfile", ctx, "user-1").Return(profile, nil)
		assigner.On("Assign", ctx, profile, mock.Anything, entitlement.SourceAdmin).
			Return(false, entitlement.ErrUnknownProduct)

		_, err := svc.AssignProduct(ctx, "admin-1", models.DummyAssignment{UserID: "user-1", ProductCode: "gamma"})
		assert.ErrorIs(t, err, ErrUnknownProduct)
	})
}

func TestService_RemoveAssignment(t *testing.T) {
	ctx := context.Background()

	svc, repo, assigner, _ := newService()
	repo.On("DeleteAssignment", ctx, "asg-1").Return("user-1", nil)
	assigner.On("InvalidateAccess", ctx, "user-1").Return()
	require.NoError(t, svc.RemoveAssignment(ctx, "asg-1"))
	assigner.AssertExpectations(t)

	svc, repo, assigner, _ = newService()
	repo.On("DeleteAssignment", ctx, "asg-2").Return("", storage.ErrNotFound)
	assert.ErrorIs(t, svc.RemoveAssignment(ctx, "asg-2"), ErrNotFound)
	assigner.AssertNotCalled(t, "InvalidateAccess", mock.Anything, mock.Anything)
}

func TestService_ResetDownloads(t *testing.T) {
	ctx := context.Background()

	t.Run("single user", func(t *testing.T) {
		svc, repo, _, cache := newService()
		repo.On("ResetUserDownloads", ctx, "user-1", "art-1").Return(2, nil)
		cache.On("Invalidate", ctx, []string{ledger.CounterCacheKey("user-1", "art-1")}).Return(nil)

		n, err := svc.ResetUserDownloads(ctx, "user-1", "art-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		cache.AssertExpectations(t)
	})

	t.Run("all users of artifact", func(t *testing.T) {
		svc, repo, _, cache := newService()
		repo.On("ResetArtifactDownloads", ctx, "art-1").Return([]string{"user-1", "user-2"}, nil)
		cache.On("Invalidate", ctx, []string{
			ledger.CounterCacheKey("user-1", "art-1"),
			ledger.CounterCacheKey("user-2", "art-1"),
		}).Return(nil)

		n, err := svc.ResetArtifactDownloads(ctx, "art-1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		cache.AssertExpectations(t)
	})

	t.Run("nothing to reset skips cache", func(t *testing.T) {
		svc, repo, _, cache := newService()
		repo.On("ResetArtifactDownloads", ctx, "art-1").Return([]string{}, nil)

		n, err := svc.ResetArtifactDownloads(ctx, "art-1")
		require.NoError(t, err)
		assert.Zero(t, n)
		cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
	})

	t.Run("cache failure does not fail reset", func(t *testing.T) {
		svc, repo, _, cache := newService()
		repo.On("ResetUserDownloads", ctx, "user-1", "art-1").Return(1, nil)
		cache.On("Invalidate", ctx, mock.Anything).Return(errors.New("redis down"))

		n, err := svc.ResetUserDownloads(ctx, "user-1", "art-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("store failure", func(t *testing.T) {
		svc, repo, _, cache := newService()
		repo.On("ResetArtifactDownloads", ctx, "art-1").Return(nil, errors.New("connection refused"))

		_, err := svc.ResetArtifactDownloads(ctx, "art-1")
		require.Error(t, err)
		cache.AssertNotCalled(t, "Invalidate", mock.Anything, mock.Anything)
	})
}

func TestService_Catalog(t *testing.T) {
	ctx := context.Background()
	dummy := models.DummyArtifact{
		ProductCode: "gamma", Name: "Gamma", Version: "1.0", DownloadLimit: 1,
		Links: []models.DummyLink{{URL: "https://cdn.example.com/g.zip"}},
	}

	t.Run("artifact for unknown product", func(t *testing.T) {
		svc, repo, _, _ := newService()
		repo.On("CreateArtifact", ctx, dummy).Return(nil, storage.ErrUnknownProduct)
		_, err := svc.CreateArtifact(ctx, dummy)
		assert.ErrorIs(t, err, ErrUnknownProduct)
	})

	t.Run("update moves artifact to unknown product", func(t *testing.T) {
		svc, repo, _, _ := newService()
		repo.On("UpdateArtifact", ctx, "art-1", dummy).Return(nil, storage.ErrUnknownProduct)
		_, err := svc.UpdateArtifact(ctx, "art-1", dummy)
		assert.ErrorIs(t, err, ErrUnknownProduct)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("update missing artifact", func(t *testing.T) {
		svc, repo, _, _ := newService()
		repo.On("UpdateArtifact", ctx, "missing", dummy).Return(nil, storage.ErrNotFound)
		_, err := svc.UpdateArtifact(ctx, "missing", dummy)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NotErrorIs(t, err, ErrUnknownProduct)
	})

	t.Run("artifact created", func(t *testing.T) {
		svc, repo, _, _ := newService()
		want := &models.Artifact{ID: "art-9", ProductCode: "gamma", Links: []models.ArtifactLink{{ID: "l"}}}
		repo.On("CreateArtifact", ctx, dummy).Return(want, nil)
		got, err := svc.CreateArtifact(ctx, dummy)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("duplicate product code", func(t *testing.T) {
		svc, repo, _, _ := newService()
		req := models.DummyProduct{Code: models.ProductCodeAlphaLite, Name: "dup"}
		repo.On("CreateProduct", ctx, req).Return(nil, storage.ErrConflict)
		_, err := svc.CreateProduct(ctx, req)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("toggle missing artifact", func(t *testing.T) {
		svc, repo, _, _ := newService()
		repo.On("SetArtifactActive", ctx, "missing", false).Return(storage.ErrNotFound)
		assert.ErrorIs(t, svc.SetArtifactActive(ctx, "missing", false), ErrNotFound)
	})

	t.Run("delete product", func(t *testing.T) {
		svc, repo, _, _ := newService()
		repo.On("DeleteProduct", ctx, "prod-1").Return(nil)
		require.NoError(t, svc.DeleteProduct(ctx, "prod-1"))
		repo.AssertExpectations(t)
	})
}

func TestService_ListUsersDefaults(t *testing.T) {
	ctx := context.Background()
	svc, repo, _, _ := newService()
	users := []*models.ProfileWithProducts{{Profile: models.Profile{ID: "user-1"}, ProductCodes: []string{models.ProductCodeAlphaLite}}}
	repo.On("ListProfiles", ctx, defaultUsersLimit, 0).Return(users, nil)

	got, err := svc.ListUsers(ctx, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, users, got)
}
