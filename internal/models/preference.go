package models

import (
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Preference keys.
const (
	// PrefShowPerfWarning controls the conversion performance prompt.
	PrefShowPerfWarning = "show_perf_warning"
)

// Preference is an operator setting that outlives a cast session.
type Preference struct {
	BaseModel

	Key   string `gorm:"column:pref_key;uniqueIndex;not null;size:100" json:"key"`
	Value string `gorm:"size:1000" json:"value"`
}

// TableName returns the table name for Preference.
func (Preference) TableName() string {
	return "preferences"
}

// Validate performs basic validation on the preference.
func (p *Preference) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return ErrKeyRequired
	}
	return nil
}

// Bool interprets the value as a boolean, returning def when it is not one.
func (p *Preference) Bool(def bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(p.Value))
	if err != nil {
		return def
	}
	return b
}

// BeforeCreate is a GORM hook that validates and sets defaults.
func (p *Preference) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return p.Validate()
}
