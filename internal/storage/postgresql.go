// Package storage реализует хранилище данных портала на основе PostgreSQL:
// профили, каталог продуктов, назначения, артефакты с зеркалами,
// журнал загрузок и журнал событий биллинга.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrNotFound запись не найдена.
	ErrNotFound = errors.New("record not found")
	// ErrConflict нарушено ограничение уникальности.
	ErrConflict = errors.New("record already exists")
	// ErrLimitReached условная вставка не выполнена, лимит исчерпан.
	ErrLimitReached = errors.New("download limit reached")
	// ErrUnknownProduct в каталоге нет продукта с таким кодом.
	ErrUnknownProduct = errors.New("unknown product code")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL и проверяет его.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// Ping проверяет доступность базы, используется в health-check.
func (s *Storage) Ping(ctx context.Context) error {
	const op = "storage.Ping"
	if err := s.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// isInvalidText ловит значения, не приводимые к типу колонки, например не-UUID в id.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidTextRepresentation
}

// wrap приводит ошибки драйвера к ошибкам пакета.
// Невалидный идентификатор не может принадлежать записи, поэтому это ErrNotFound.
func wrap(op string, err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows), isInvalidText(err):
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
