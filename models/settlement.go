package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	SettlementPending   = "pending"
	SettlementCompleted = "completed"
	SettlementCancelled = "cancelled"
)

// Settlement is a recorded payment between two members. Only completed
// settlements count toward balances.
type Settlement struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID       uuid.UUID       `gorm:"type:uuid;index" json:"group_id"`
	PaidBy        uuid.UUID       `gorm:"type:uuid" json:"paid_by"`
	Payer         User            `gorm:"foreignKey:PaidBy" json:"payer,omitempty"`
	PaidTo        uuid.UUID       `gorm:"type:uuid" json:"paid_to"`
	Payee         User            `gorm:"foreignKey:PaidTo" json:"payee,omitempty"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	TransactionID string          `gorm:"size:100;index" json:"transaction_id,omitempty"`
	Status        string          `gorm:"default:completed;size:20" json:"status"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *Settlement) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func ValidSettlementStatus(status string) bool {
	switch status {
	case SettlementPending, SettlementCompleted, SettlementCancelled:
		return true
	}
	return false
}

type CreateSettlementRequest struct {
	PaidTo        string          `json:"paid_to" binding:"required"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transaction_id" binding:"max=100"`
	Status        string          `json:"status" binding:"omitempty,oneof=pending completed"`
	Notes         string          `json:"notes"`
}

type UpdateSettlementStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=pending completed cancelled"`
}
