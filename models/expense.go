package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Expense struct {
	ID           uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID      uuid.UUID            `gorm:"type:uuid;index" json:"group_id"`
	CreatedBy    uuid.UUID            `gorm:"type:uuid" json:"created_by"`
	PaidBy       uuid.UUID            `gorm:"type:uuid" json:"paid_by"`
	Payer        User                 `gorm:"foreignKey:PaidBy" json:"payer,omitempty"`
	Description  string               `gorm:"not null;size:255" json:"description"`
	Amount       decimal.Decimal      `gorm:"type:numeric(14,2);not null" json:"amount"`
	Currency     string               `gorm:"default:INR;size:3" json:"currency"`
	Category     string               `gorm:"size:50" json:"category"`            // food, transport, rent, utilities, entertainment, other
	SplitType    string               `gorm:"not null;size:20" json:"split_type"` // equal, exact, percentage, shares
	Notes        string               `json:"notes,omitempty"`
	ExpenseDate  time.Time            `gorm:"type:date;default:CURRENT_DATE" json:"expense_date"`
	Participants []ExpenseParticipant `gorm:"foreignKey:ExpenseID" json:"participants,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func (e *Expense) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// ExpenseParticipant is one allocation row. Weight keeps the strategy input
// (exact amount, percentage or share count) so the split can be re-run.
type ExpenseParticipant struct {
	ID         uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	ExpenseID  uuid.UUID       `gorm:"type:uuid;index" json:"expense_id"`
	UserID     uuid.UUID       `gorm:"type:uuid;index" json:"user_id"`
	AmountPaid decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"amount_paid"`
	AmountOwed decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount_owed"`
	Weight     decimal.Decimal `gorm:"type:numeric(14,4);not null;default:0" json:"weight"`
	CreatedAt  time.Time       `json:"created_at"`
}

func (ep *ExpenseParticipant) BeforeCreate(tx *gorm.DB) error {
	if ep.ID == uuid.Nil {
		ep.ID = uuid.New()
	}
	return nil
}

// Request structs
type CreateExpenseRequest struct {
	Description string          `json:"description" binding:"required,max=255"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"omitempty,len=3"`
	Category    string          `json:"category"`
	SplitType   string          `json:"split_type" binding:"required,oneof=equal exact percentage shares"`
	PaidBy      string          `json:"paid_by"`      // defaults to the caller
	Notes       string          `json:"notes"`
	ExpenseDate string          `json:"expense_date"` // YYYY-MM-DD
	Splits      []SplitInput    `json:"splits"`       // required for exact, percentage, shares; optional subset for equal
}

type SplitInput struct {
	UserID string          `json:"user_id" binding:"required"`
	Value  decimal.Decimal `json:"value"` // exact amount, percentage, or share count
}

type UpdateExpenseRequest struct {
	Description string           `json:"description" binding:"max=255"`
	Amount      *decimal.Decimal `json:"amount"`
	Category    string           `json:"category"`
	SplitType   string           `json:"split_type" binding:"omitempty,oneof=equal exact percentage shares"`
	PaidBy      string           `json:"paid_by"`
	Notes       string           `json:"notes"`
	Splits      []SplitInput     `json:"splits"`
}

// Response
type ExpenseResponse struct {
	ID          uuid.UUID           `json:"id"`
	GroupID     uuid.UUID           `json:"group_id"`
	CreatedBy   uuid.UUID           `json:"created_by"`
	PaidBy      uuid.UUID           `json:"paid_by"`
	PayerName   string              `json:"payer_name"`
	Description string              `json:"description"`
	Amount      decimal.Decimal     `json:"amount"`
	Currency    string              `json:"currency"`
	Category    string              `json:"category"`
	SplitType   string              `json:"split_type"`
	Notes       string              `json:"notes,omitempty"`
	ExpenseDate time.Time           `json:"expense_date"`
	Splits      []ParticipantResult `json:"splits"`
	CreatedAt   time.Time           `json:"created_at"`
}

type ParticipantResult struct {
	UserID     uuid.UUID       `json:"user_id"`
	UserName   string          `json:"user_name"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
}
