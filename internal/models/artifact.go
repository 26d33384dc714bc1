package models

import "time"

// Artifact загружаемая версия файла с одним или несколькими зеркалами.
type Artifact struct {
	ID              string         `json:"id"`
	ProductID       string         `json:"product_id"`
	ProductCode     string         `json:"product_code"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	PlatformVersion string         `json:"platform_version"`
	DownloadLimit   int            `json:"download_limit"`
	IsActive        bool           `json:"is_active"`
	Links           []ArtifactLink `json:"links"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Link возвращает зеркало по ID, а при пустом ID первое по порядку.
func (a *Artifact) Link(id string) (*ArtifactLink, bool) {
	if len(a.Links) == 0 {
		return nil, false
	}
	if id == "" {
		return &a.Links[0], true
	}
	for i := range a.Links {
		if a.Links[i].ID == id {
			return &a.Links[i], true
		}
	}
	return nil, false
}

// ArtifactLink зеркало артефакта.
type ArtifactLink struct {
	ID         string  `json:"id"`
	ArtifactID string  `json:"artifact_id"`
	URL        string  `json:"url,omitempty"`
	Label      *string `json:"label,omitempty"`
	Position   int     `json:"position"`
}

// ArtifactStats артефакт с общим числом загрузок для админки.
type ArtifactStats struct {
	Artifact
	TotalDownloads int `json:"total_downloads"`
}

// DummyArtifact тело запроса админки на создание или изменение артефакта.
type DummyArtifact struct {
	ProductCode     string      `json:"product_code" validate:"required"`
	Name            string      `json:"name" validate:"required,max=255"`
	Version         string      `json:"version" validate:"required,max=64"`
	PlatformVersion string      `json:"platform_version" validate:"max=64"`
	DownloadLimit   int         `json:"download_limit" validate:"required,gte=1"`
	IsActive        *bool       `json:"is_active,omitempty" swaggertype:"boolean" default:"true"`
	Links           []DummyLink `json:"links" validate:"required,min=1,dive"`
}

// Active возвращает видимость артефакта. Не указанное поле означает видимый.
func (d DummyArtifact) Active() bool {
	return d.IsActive == nil || *d.IsActive
}

// DummyLink зеркало в теле запроса.
type DummyLink struct {
	URL   string `json:"url" validate:"required,url"`
	Label string `json:"label" validate:"max=128"`
}
