package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/traders-portal/internal/models"
)

// ListAssignedProductCodes возвращает коды продуктов, назначенных пользователю.
func (s *Storage) ListAssignedProductCodes(ctx context.Context, userID string) ([]string, error) {
	const op = "storage.ListAssignedProductCodes"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT p.code
			  FROM user_product_assignments a
			  JOIN products p ON p.id = a.product_id
			  WHERE a.user_id = $1
			  ORDER BY p.code`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	codes := []string{}
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return codes, nil
}

// HasAssignment проверяет, назначен ли пользователю продукт с кодом code.
func (s *Storage) HasAssignment(ctx context.Context, userID, code string) (bool, error) {
	const op = "storage.HasAssignment"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT EXISTS (
				SELECT 1 FROM user_product_assignments a
				JOIN products p ON p.id = a.product_id
				WHERE a.user_id = $1 AND p.code = $2)`
	var exists bool
	if err := s.DB.QueryRowContext(ctx, query, userID, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return exists, nil
}

// CreateAssignment назначает пользователю продукт по коду.
// Неизвестный код даёт ErrNotFound, повторное назначение ErrConflict.
func (s *Storage) CreateAssignment(ctx context.Context, entry models.NewAssignment) (*models.Assignment, error) {
	const op = "storage.CreateAssignment"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO user_product_assignments (user_id, product_id, assigned_by, notes)
			  SELECT $1::uuid, p.id, $3::uuid, $4
			  FROM products p WHERE p.code = $2
			  RETURNING id, user_id, product_id, assigned_at, assigned_by, notes`
	a := models.Assignment{ProductCode: entry.ProductCode}
	var assignedBy, notes sql.NullString
	err := s.DB.QueryRowContext(ctx, query, entry.UserID, entry.ProductCode, entry.AssignedBy, entry.Notes).
		Scan(&a.ID, &a.UserID, &a.ProductID, &a.AssignedAt, &assignedBy, &notes)
	if err != nil {
		return nil, wrap(op, err)
	}
	if assignedBy.Valid {
		a.AssignedBy = &assignedBy.String
	}
	if notes.Valid {
		a.Notes = &notes.String
	}
	return &a, nil
}

// ListAssignments возвращает назначения пользователя.
func (s *Storage) ListAssignments(ctx context.Context, userID string) ([]*models.Assignment, error) {
	const op = "storage.ListAssignments"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT a.id, a.user_id, a.product_id, p.code, a.assigned_at, a.assigned_by, a.notes
			  FROM user_product_assignments a
			  JOIN products p ON p.id = a.product_id
			  WHERE a.user_id = $1
			  ORDER BY a.assigned_at`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Assignment
	for rows.Next() {
		var a models.Assignment
		var assignedBy, notes sql.NullString
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProductID, &a.ProductCode, &a.AssignedAt,
			&assignedBy, &notes); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if assignedBy.Valid {
			a.AssignedBy = &assignedBy.String
		}
		if notes.Valid {
			a.Notes = &notes.String
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// DeleteAssignment отзывает назначение и возвращает ID пользователя,
// чтобы вызывающий мог сбросить кэш доступа.
func (s *Storage) DeleteAssignment(ctx context.Context, id string) (string, error) {
	const op = "storage.DeleteAssignment"
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var userID string
	err := s.DB.QueryRowContext(ctx,
		`DELETE FROM user_product_assignments WHERE id = $1 RETURNING user_id`, id).Scan(&userID)
	if err != nil {
		return "", wrap(op, err)
	}
	return userID, nil
}
