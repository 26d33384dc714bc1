package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/traders-portal/internal/models"
)

// CountDownloads возвращает число записанных загрузок пары (пользователь, артефакт).
func (s *Storage) CountDownloads(ctx context.Context, userID, artifactID string) (int, error) {
	const op = "storage.CountDownloads"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT COUNT(*) FROM download_attempt_records WHERE user_id = $1 AND artifact_id = $2`
	var n int
	if err := s.DB.QueryRowContext(ctx, query, userID, artifactID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// CountDownloadsByUser возвращает счётчики загрузок пользователя по всем артефактам.
func (s *Storage) CountDownloadsByUser(ctx context.Context, userID string) (map[string]int, error) {
	const op = "storage.CountDownloadsByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT artifact_id, COUNT(*) FROM download_attempt_records
			  WHERE user_id = $1 GROUP BY artifact_id`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return counts, nil
}

// RecordDownload атомарно проверяет лимит и вставляет запись о загрузке.
// Если лимит уже исчерпан, возвращает ErrLimitReached. Если параллельная
// попытка заняла тот же номер, уникальный ключ (user_id, artifact_id, attempt_no)
// отклоняет вставку и возвращается ErrConflict.
func (s *Storage) RecordDownload(ctx context.Context, rec models.NewDownloadRecord, limit int) (*models.DownloadRecord, error) {
	const op = "storage.RecordDownload"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO download_attempt_records (user_id, artifact_id, link_id, attempt_no)
			  SELECT $1::uuid, $2::uuid, $3::uuid, COUNT(*) + 1
			  FROM download_attempt_records
			  WHERE user_id = $1::uuid AND artifact_id = $2::uuid
			  HAVING COUNT(*) < $4::int
			  RETURNING id, attempt_no, downloaded_at`
	out := models.DownloadRecord{
		UserID:     rec.UserID,
		ArtifactID: rec.ArtifactID,
		LinkID:     rec.LinkID,
	}
	err := s.DB.QueryRowContext(ctx, query, rec.UserID, rec.ArtifactID, rec.LinkID, limit).
		Scan(&out.ID, &out.AttemptNo, &out.DownloadedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%s: %w", op, ErrLimitReached)
	case err != nil:
		return nil, wrap(op, err)
	}
	return &out, nil
}

// ResetUserDownloads обнуляет счётчик пары (пользователь, артефакт).
// Возвращает число удалённых записей.
func (s *Storage) ResetUserDownloads(ctx context.Context, userID, artifactID string) (int, error) {
	const op = "storage.ResetUserDownloads"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM download_attempt_records WHERE user_id = $1 AND artifact_id = $2`, userID, artifactID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return int(n), nil
}

// ResetArtifactDownloads обнуляет счётчики всех пользователей по артефакту
// и возвращает ID затронутых пользователей.
func (s *Storage) ResetArtifactDownloads(ctx context.Context, artifactID string) ([]string, error) {
	const op = "storage.ResetArtifactDownloads"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`DELETE FROM download_attempt_records WHERE artifact_id = $1 RETURNING user_id`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	seen := make(map[string]struct{})
	users := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// ListDownloadUsage возвращает статистику загрузок артефакта по пользователям.
func (s *Storage) ListDownloadUsage(ctx context.Context, artifactID string) ([]*models.DownloadUsage, error) {
	const op = "storage.ListDownloadUsage"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT r.user_id, p.email, COUNT(*), MAX(r.downloaded_at)
			  FROM download_attempt_records r
			  JOIN profiles p ON p.id = r.user_id
			  WHERE r.artifact_id = $1
			  GROUP BY r.user_id, p.email
			  ORDER BY MAX(r.downloaded_at) DESC`
	rows, err := s.DB.QueryContext(ctx, query, artifactID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.DownloadUsage
	for rows.Next() {
		var u models.DownloadUsage
		if err := rows.Scan(&u.UserID, &u.Email, &u.Downloads, &u.LastDownloadAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
