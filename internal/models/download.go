package models

import "time"

// DownloadState состояние пары (пользователь, артефакт).
type DownloadState string

const (
	DownloadLocked       DownloadState = "locked"
	DownloadEligible     DownloadState = "eligible"
	DownloadLimitReached DownloadState = "limit_reached"
)

// DownloadRecord строка журнала загрузок. Количество строк на пару — счётчик загрузок.
type DownloadRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	ArtifactID   string    `json:"artifact_id"`
	LinkID       *string   `json:"link_id,omitempty"`
	AttemptNo    int       `json:"attempt_no"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewDownloadRecord параметры вставки записи о загрузке.
type NewDownloadRecord struct {
	UserID     string
	ArtifactID string
	LinkID     *string
}

// ArtifactView артефакт глазами конкретного пользователя.
type ArtifactView struct {
	Artifact  Artifact      `json:"artifact"`
	State     DownloadState `json:"state"`
	Used      int           `json:"used"`
	Remaining int           `json:"remaining"`
}

// DummyAttempt тело запроса на загрузку.
type DummyAttempt struct {
	LinkID       string `json:"link_id" validate:"omitempty,uuid"`
	Acknowledged bool   `json:"acknowledged"`
}

// AttemptResult результат успешной загрузки.
type AttemptResult struct {
	URL          string    `json:"url"`
	LinkID       string    `json:"link_id"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// DownloadUsage число загрузок пользователя по артефакту для админки.
type DownloadUsage struct {
	UserID         string    `json:"user_id"`
	Email          string    `json:"email"`
	Downloads      int       `json:"downloads"`
	LastDownloadAt time.Time `json:"last_download_at"`
}
