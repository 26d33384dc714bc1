package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/traders-portal/internal/models"
)

const artifactSelect = `SELECT a.id, a.product_id, p.code, a.name, a.version, a.platform_version,
		a.download_limit, a.is_active, a.created_at,
		l.id, l.url, l.label, l.position
	FROM downloadable_artifacts a
	JOIN products p ON p.id = a.product_id
	LEFT JOIN artifact_links l ON l.artifact_id = a.id`

// scanArtifacts собирает артефакты из строк JOIN-а с зеркалами, сохраняя порядок.
func scanArtifacts(rows *sql.Rows) ([]*models.Artifact, error) {
	var result []*models.Artifact
	index := make(map[string]*models.Artifact)
	for rows.Next() {
		var a models.Artifact
		var linkID, linkURL, linkLabel sql.NullString
		var linkPosition sql.NullInt64
		if err := rows.Scan(&a.ID, &a.ProductID, &a.ProductCode, &a.Name, &a.Version, &a.PlatformVersion,
			&a.DownloadLimit, &a.IsActive, &a.CreatedAt,
			&linkID, &linkURL, &linkLabel, &linkPosition); err != nil {
			return nil, err
		}
		current, ok := index[a.ID]
		if !ok {
			a.Links = []models.ArtifactLink{}
			current = &a
			index[a.ID] = current
			result = append(result, current)
		}
		if linkID.Valid {
			link := models.ArtifactLink{
				ID:         linkID.String,
				ArtifactID: a.ID,
				URL:        linkURL.String,
				Position:   int(linkPosition.Int64),
			}
			if linkLabel.Valid {
				link.Label = &linkLabel.String
			}
			current.Links = append(current.Links, link)
		}
	}
	return result, rows.Err()
}

// GetArtifact возвращает артефакт с зеркалами.
func (s *Storage) GetArtifact(ctx context.Context, id string) (*models.Artifact, error) {
	const op = "storage.GetArtifact"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx, artifactSelect+` WHERE a.id = $1 ORDER BY l.position, l.id`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	artifacts, err := scanArtifacts(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return artifacts[0], nil
}

// ListArtifacts возвращает артефакты с зеркалами. При activeOnly только активные.
func (s *Storage) ListArtifacts(ctx context.Context, activeOnly bool) ([]*models.Artifact, error) {
	const op = "storage.ListArtifacts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := artifactSelect + ` WHERE ($1 = false OR a.is_active)
		ORDER BY a.created_at DESC, a.id, l.position, l.id`
	rows, err := s.DB.QueryContext(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	artifacts, err := scanArtifacts(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return artifacts, nil
}

// ListArtifactStats возвращает все артефакты с общим числом загрузок.
func (s *Storage) ListArtifactStats(ctx context.Context) ([]*models.ArtifactStats, error) {
	const op = "storage.ListArtifactStats"

	artifacts, err := s.ListArtifacts(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT artifact_id, COUNT(*) FROM download_attempt_records GROUP BY artifact_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	totals := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		totals[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	result := make([]*models.ArtifactStats, 0, len(artifacts))
	for _, a := range artifacts {
		result = append(result, &models.ArtifactStats{Artifact: *a, TotalDownloads: totals[a.ID]})
	}
	return result, nil
}

// CreateArtifact создаёт артефакт и его зеркала в одной транзакции.
func (s *Storage) CreateArtifact(ctx context.Context, entry models.DummyArtifact) (*models.Artifact, error) {
	const op = "storage.CreateArtifact"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	productID, err := productIDByCode(ctx, tx, entry.ProductCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO downloadable_artifacts (product_id, name, version, platform_version, download_limit, is_active)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`
	var id string
	err = tx.QueryRowContext(ctx, query, productID, entry.Name, entry.Version,
		entry.PlatformVersion, entry.DownloadLimit, entry.Active()).Scan(&id)
	if err != nil {
		return nil, wrap(op, err)
	}
	if err := insertLinks(ctx, tx, id, entry.Links); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.GetArtifact(ctx, id)
}

// UpdateArtifact заменяет поля артефакта и набор его зеркал.
// Неизвестный код продукта даёт ErrUnknownProduct, отсутствующий артефакт ErrNotFound.
// Записи журнала, ссылавшиеся на удалённые зеркала, сохраняются с пустым link_id.
func (s *Storage) UpdateArtifact(ctx context.Context, id string, entry models.DummyArtifact) (*models.Artifact, error) {
	const op = "storage.UpdateArtifact"

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	productID, err := productIDByCode(ctx, tx, entry.ProductCode)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	query := `UPDATE downloadable_artifacts
			  SET product_id = $2, name = $3, version = $4, platform_version = $5,
			      download_limit = $6, is_active = $7
			  WHERE id = $1
			  RETURNING id`
	var updated string
	err = tx.QueryRowContext(ctx, query, id, productID, entry.Name, entry.Version,
		entry.PlatformVersion, entry.DownloadLimit, entry.Active()).Scan(&updated)
	if err != nil {
		return nil, wrap(op, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM artifact_links WHERE artifact_id = $1`, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := insertLinks(ctx, tx, id, entry.Links); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s.GetArtifact(ctx, id)
}

func productIDByCode(ctx context.Context, tx *sql.Tx, code string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE code = $1`, code).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownProduct
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func insertLinks(ctx context.Context, tx *sql.Tx, artifactID string, links []models.DummyLink) error {
	query := `INSERT INTO artifact_links (artifact_id, url, label, position) VALUES ($1, $2, $3, $4)`
	for i, l := range links {
		if _, err := tx.ExecContext(ctx, query, artifactID, l.URL, nullString(l.Label), i); err != nil {
			return err
		}
	}
	return nil
}

// SetArtifactActive включает или выключает артефакт.
func (s *Storage) SetArtifactActive(ctx context.Context, id string, active bool) error {
	const op = "storage.SetArtifactActive"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `UPDATE downloadable_artifacts SET is_active = $1 WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// DeleteArtifact удаляет артефакт вместе с зеркалами и журналом загрузок.
func (s *Storage) DeleteArtifact(ctx context.Context, id string) error {
	const op = "storage.DeleteArtifact"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM downloadable_artifacts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}
