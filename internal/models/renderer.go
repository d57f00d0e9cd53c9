package models

import (
	"gorm.io/gorm"
)

// Renderer remembers a media renderer that has been described or cast to.
type Renderer struct {
	BaseModel

	// DescriptionURL is the device description location (unique index).
	DescriptionURL string `gorm:"uniqueIndex;not null;size:2048" json:"description_url"`

	UDN          string `gorm:"size:200;index" json:"udn,omitempty"`
	FriendlyName string `gorm:"size:255" json:"friendly_name,omitempty"`
	Manufacturer string `gorm:"size:255" json:"manufacturer,omitempty"`
	ModelName    string `gorm:"size:255" json:"model_name,omitempty"`

	// ControlURL is the resolved AVTransport control address.
	ControlURL string `gorm:"size:2048" json:"control_url,omitempty"`

	LastSeenAt Time  `gorm:"not null;index" json:"last_seen_at"`
	LastCastAt *Time `json:"last_cast_at,omitempty"`
	CastCount  int64 `gorm:"default:0" json:"cast_count"`
}

// TableName returns the table name for Renderer.
func (Renderer) TableName() string {
	return "renderers"
}

// Validate performs basic validation on the renderer.
func (r *Renderer) Validate() error {
	if r.DescriptionURL == "" {
		return ErrDescriptionURLRequired
	}
	return nil
}

// DisplayName returns the friendly name, falling back to the description URL.
func (r *Renderer) DisplayName() string {
	if r.FriendlyName != "" {
		return r.FriendlyName
	}
	return r.DescriptionURL
}

// BeforeCreate is a GORM hook that validates and sets defaults.
func (r *Renderer) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.LastSeenAt.IsZero() {
		r.LastSeenAt = Now()
	}
	return r.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (r *Renderer) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}
