package models

import "time"

// Коды продуктов, на которые завязана логика доступа.
const (
	ProductCodeAlphaStrategy = "alpha_strategy"
	ProductCodeAlphaLite     = "alpha_lite"
)

// Product единица доступа, идентифицируемая стабильным кодом.
type Product struct {
	ID          string    `json:"id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsPremium   bool      `json:"is_premium"`
	CreatedAt   time.Time `json:"created_at"`
}

// DummyProduct используется для приёма данных продукта из JSON-запроса.
type DummyProduct struct {
	Code        string `json:"code" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=255"`
	Description string `json:"description"`
	IsPremium   bool   `json:"is_premium"`
}

// Assignment связь пользователя и продукта. Строки только вставляются и удаляются.
type Assignment struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ProductID   string    `json:"product_id"`
	ProductCode string    `json:"product_code"`
	AssignedAt  time.Time `json:"assigned_at"`
	AssignedBy  *string   `json:"assigned_by,omitempty"`
	Notes       *string   `json:"notes,omitempty"`
}

// NewAssignment параметры создания назначения.
type NewAssignment struct {
	UserID      string
	ProductCode string
	AssignedBy  *string
	Notes       *string
}

// DummyAssignment тело запроса админки на назначение продукта.
type DummyAssignment struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	ProductCode string `json:"product_code" validate:"required"`
	Notes       string `json:"notes"`
}
