package storage

import (
	"context"
	"fmt"

	"github.com/magabrotheeeer/traders-portal/internal/models"
)

// ListProducts возвращает каталог продуктов.
func (s *Storage) ListProducts(ctx context.Context) ([]*models.Product, error) {
	const op = "storage.ListProducts"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, code, name, description, is_premium, created_at
			  FROM products ORDER BY code`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.IsPremium, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CreateProduct добавляет продукт в каталог.
func (s *Storage) CreateProduct(ctx context.Context, entry models.DummyProduct) (*models.Product, error) {
	const op = "storage.CreateProduct"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO products (code, name, description, is_premium)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id, code, name, description, is_premium, created_at`
	var p models.Product
	err := s.DB.QueryRowContext(ctx, query, entry.Code, entry.Name, entry.Description, entry.IsPremium).
		Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.IsPremium, &p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// UpdateProduct изменяет продукт по ID.
func (s *Storage) UpdateProduct(ctx context.Context, id string, entry models.DummyProduct) (*models.Product, error) {
	const op = "storage.UpdateProduct"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE products SET code = $1, name = $2, description = $3, is_premium = $4
			  WHERE id = $5
			  RETURNING id, code, name, description, is_premium, created_at`
	var p models.Product
	err := s.DB.QueryRowContext(ctx, query, entry.Code, entry.Name, entry.Description, entry.IsPremium, id).
		Scan(&p.ID, &p.Code, &p.Name, &p.Description, &p.IsPremium, &p.CreatedAt)
	if err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// DeleteProduct удаляет продукт. Назначения и артефакты удаляются каскадно.
func (s *Storage) DeleteProduct(ctx context.Context, id string) error {
	const op = "storage.DeleteProduct"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
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
