package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/magabrotheeeer/traders-portal/internal/models"
)

const profileColumns = `id, email, full_name, subscription_status, is_admin, stripe_customer_id, created_at`

func scanProfile(row interface{ Scan(...any) error }, p *models.Profile) error {
	var customerID sql.NullString
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.SubscriptionStatus, &p.IsAdmin,
		&customerID, &p.CreatedAt); err != nil {
		return err
	}
	if customerID.Valid {
		p.StripeCustomerID = &customerID.String
	}
	return nil
}

// GetProfile возвращает профиль пользователя по ID.
func (s *Storage) GetProfile(ctx context.Context, userID string) (*models.Profile, error) {
	const op = "storage.GetProfile"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	var p models.Profile
	if err := scanProfile(s.DB.QueryRowContext(ctx, query, userID), &p); err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// GetProfileByCustomerID возвращает профиль по идентификатору клиента платёжного провайдера.
func (s *Storage) GetProfileByCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	const op = "storage.GetProfileByCustomerID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = $1`
	var p models.Profile
	if err := scanProfile(s.DB.QueryRowContext(ctx, query, customerID), &p); err != nil {
		return nil, wrap(op, err)
	}
	return &p, nil
}

// ListProfiles возвращает профили с кодами назначенных продуктов, с пагинацией.
func (s *Storage) ListProfiles(ctx context.Context, limit, offset int) ([]*models.ProfileWithProducts, error) {
	const op = "storage.ListProfiles"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT pr.id, pr.email, pr.full_name, pr.subscription_status, pr.is_admin,
			      pr.stripe_customer_id, pr.created_at,
			      COALESCE(string_agg(p.code, ',' ORDER BY p.code), '')
			  FROM profiles pr
			  LEFT JOIN user_product_assignments a ON a.user_id = pr.id
			  LEFT JOIN products p ON p.id = a.product_id
			  GROUP BY pr.id
			  ORDER BY pr.created_at DESC
			  LIMIT $1 OFFSET $2`
	rows, err := s.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.ProfileWithProducts
	for rows.Next() {
		var item models.ProfileWithProducts
		var customerID sql.NullString
		var codes string
		if err := rows.Scan(&item.ID, &item.Email, &item.FullName, &item.SubscriptionStatus,
			&item.IsAdmin, &customerID, &item.CreatedAt, &codes); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if customerID.Valid {
			item.StripeCustomerID = &customerID.String
		}
		item.ProductCodes = []string{}
		if codes != "" {
			item.ProductCodes = strings.Split(codes, ",")
		}
		result = append(result, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateSubscriptionStatus выставляет статус подписки пользователя.
func (s *Storage) UpdateSubscriptionStatus(ctx context.Context, userID string, status models.SubscriptionStatus) error {
	const op = "storage.UpdateSubscriptionStatus"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE profiles SET subscription_status = $1 WHERE id = $2`
	res, err := s.DB.ExecContext(ctx, query, status, userID)
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

// SetStripeCustomerID привязывает клиента платёжного провайдера к профилю.
func (s *Storage) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const op = "storage.SetStripeCustomerID"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE profiles SET stripe_customer_id = $1 WHERE id = $2`
	res, err := s.DB.ExecContext(ctx, query, customerID, userID)
	if err != nil {
		return wrap(op, err)
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
