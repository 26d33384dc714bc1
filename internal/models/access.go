package models

import "slices"

// AccessLevel набор флагов видимости разделов портала.
type AccessLevel struct {
	Loading               bool     `json:"loading"`
	HasActiveSubscription bool     `json:"has_active_subscription"`
	HasAlphaStrategy      bool     `json:"has_alpha_strategy"`
	HasAlphaLite          bool     `json:"has_alpha_lite"`
	HasAnyProduct         bool     `json:"has_any_product"`
	CanAccessDownloads    bool     `json:"can_access_downloads"`
	CanAccessApps         bool     `json:"can_access_apps"`
	CanAccessSupport      bool     `json:"can_access_support"`
	ProductCodes          []string `json:"product_codes"`
}

// HasProduct проверяет наличие конкретного продукта у пользователя.
func (a AccessLevel) HasProduct(code string) bool {
	return slices.Contains(a.ProductCodes, code)
}

// Tier уровень, выдаваемый при онбординге.
type Tier string

const (
	TierLite     Tier = "lite"
	TierStrategy Tier = "strategy"
)

// ProductCode возвращает код продукта, соответствующий уровню.
func (t Tier) ProductCode() string {
	if t == TierStrategy {
		return ProductCodeAlphaStrategy
	}
	return ProductCodeAlphaLite
}

// Grant результат классификации: какой уровень выдан и была ли создана новая строка.
type Grant struct {
	Tier        Tier   `json:"tier"`
	ProductCode string `json:"product_code"`
	Created     bool   `json:"created"`
}

// DummyOnboarding тело запроса одноразового вопроса при первом входе.
type DummyOnboarding struct {
	ClaimsPriorPurchase bool   `json:"claims_prior_purchase"`
	Passphrase          string `json:"passphrase" validate:"max=256"`
}
