package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ActivityExpenseAdded     = "expense_added"
	ActivityExpenseUpdated   = "expense_updated"
	ActivityExpenseDeleted   = "expense_deleted"
	ActivitySettlement       = "settlement"
	ActivitySettlementStatus = "settlement_status"
	ActivityMemberJoined     = "member_joined"
	ActivityMemberLeft       = "member_left"
	ActivityGroupCreated     = "group_created"
)

type Activity struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GroupID     uuid.UUID `gorm:"type:uuid;index" json:"group_id"`
	GroupName   string    `gorm:"-" json:"group_name,omitempty"`
	UserID      uuid.UUID `gorm:"type:uuid" json:"user_id"`
	User        User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Type        string    `gorm:"not null;size:30" json:"type"`
	ReferenceID uuid.UUID `gorm:"type:uuid" json:"reference_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// NewActivity builds a feed entry; it is persisted by the caller.
func NewActivity(groupID, userID uuid.UUID, kind string, ref uuid.UUID, description string) *Activity {
	return &Activity{
		GroupID:     groupID,
		UserID:      userID,
		Type:        kind,
		ReferenceID: ref,
		Description: description,
	}
}
