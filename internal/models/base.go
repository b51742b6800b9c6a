package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BaseModel carries the uuid key and timestamps shared by every table.
// created_at is indexed because ledgers and listings are read newest first.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EnsureID assigns a random id to a record that has none yet.
func (b *BaseModel) EnsureID() {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
}

// BeforeCreate is the gorm hook that calls EnsureID.
func (b *BaseModel) BeforeCreate(*gorm.DB) error {
	b.EnsureID()
	return nil
}
