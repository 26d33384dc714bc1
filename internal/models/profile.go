// Package models содержит доменные структуры портала: профиль пользователя,
// каталог продуктов, назначения продуктов, загружаемые артефакты и журнал загрузок.
package models

import "time"

// SubscriptionStatus статус подписки пользователя, который выставляет биллинг.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusInactive  SubscriptionStatus = "inactive"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusTrialing  SubscriptionStatus = "trialing"
)

// Valid сообщает, входит ли статус в допустимый набор.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusCancelled, StatusTrialing:
		return true
	}
	return false
}

// Profile представляет профиль пользователя портала.
// Ядро портала только читает его, статус подписки меняет биллинг.
type Profile struct {
	ID                 string             `json:"id"`
	Email              string             `json:"email"`
	FullName           string             `json:"full_name"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	IsAdmin            bool               `json:"is_admin"`
	StripeCustomerID   *string            `json:"stripe_customer_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
}

// ProfileWithProducts используется в админке для списка пользователей.
type ProfileWithProducts struct {
	Profile
	ProductCodes []string `json:"product_codes"`
}
