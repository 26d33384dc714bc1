package models

import "time"

// Ключи маршрутизации доменных событий.
const (
	EventProductAssigned     = "product.assigned"
	EventDownloadRecorded    = "download.recorded"
	EventSubscriptionChanged = "subscription.changed"
)

// ProductAssignedEvent публикуется после новой выдачи продукта.
type ProductAssignedEvent struct {
	UserID      string    `json:"user_id"`
	Email       string    `json:"email"`
	ProductCode string    `json:"product_code"`
	Source      string    `json:"source"`
	AssignedAt  time.Time `json:"assigned_at"`
}

// DownloadRecordedEvent публикуется после успешной загрузки.
type DownloadRecordedEvent struct {
	UserID       string    `json:"user_id"`
	ArtifactID   string    `json:"artifact_id"`
	LinkID       string    `json:"link_id"`
	AttemptNo    int       `json:"attempt_no"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// SubscriptionChangedEvent публикуется при смене статуса подписки.
type SubscriptionChangedEvent struct {
	UserID string             `json:"user_id"`
	Email  string             `json:"email"`
	Status SubscriptionStatus `json:"status"`
}
