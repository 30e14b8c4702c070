package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is the base model for all entities. ID is a UUID string.
type Base struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}

func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	return nil
}

// Versioned adds the precondition tag used for conditional updates. Every
// successful write replaces the tag; a conditional update only succeeds when
// the caller supplies the currently stored tag.
type Versioned struct {
	Base
	Tag string `json:"tag" gorm:"type:char(36);not null"`
}

func (v *Versioned) BeforeCreate(tx *gorm.DB) error {
	if err := v.Base.BeforeCreate(tx); err != nil {
		return err
	}
	if v.Tag == "" {
		v.Tag = uuid.New().String()
	}
	return nil
}

// Retag assigns a fresh precondition tag. Called by the store on every
// successful conditional update.
func (v *Versioned) Retag() { v.Tag = uuid.New().String() }
