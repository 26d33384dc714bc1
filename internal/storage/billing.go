package storage

import (
	"context"
	"fmt"
)

// SaveBillingEvent фиксирует обработанное событие биллинга.
// Повторная доставка того же события возвращает ErrConflict.
func (s *Storage) SaveBillingEvent(ctx context.Context, eventID, eventType string) error {
	const op = "storage.SaveBillingEvent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO billing_events (event_id, event_type) VALUES ($1, $2)`
	if _, err := s.DB.ExecContext(ctx, query, eventID, eventType); err != nil {
		return wrap(op, err)
	}
	return nil
}

// DeleteBillingEvent удаляет отметку о событии, если его обработка не удалась,
// чтобы повторная доставка была обработана заново.
func (s *Storage) DeleteBillingEvent(ctx context.Context, eventID string) error {
	const op = "storage.DeleteBillingEvent"

	if _, err := s.DB.ExecContext(ctx, `DELETE FROM billing_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
