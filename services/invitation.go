package services

import (
	"context"
	"errors"
	"fmt"

	"splitledger/logger"
	"splitledger/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InviteOutcome string

const (
	InviteSent       InviteOutcome = "invited"
	InviteDuplicate  InviteOutcome = "already_invited"
	InviteAddedGroup InviteOutcome = "added_to_group"
)

type InvitationService struct {
	db       *gorm.DB
	notifier Notifier
	bg       *Background
}

func NewInvitationService(db *gorm.DB, notifier Notifier, bg *Background) *InvitationService {
	return &InvitationService{db: db, notifier: notifier, bg: bg}
}

// Invite adds an already registered user straight to the group, otherwise it
// records a pending invitation and emails it.
func (s *InvitationService) Invite(ctx context.Context, groupID, invitedBy uuid.UUID, email, phone string) (InviteOutcome, error) {
	email = models.NormalizeEmail(email)
	if email == "" && phone == "" {
		return "", errors.New("email or phone is required")
	}
	db := s.db.WithContext(ctx)

	if email != "" {
		var existingUser models.User
		err := db.Where("email = ?", email).First(&existingUser).Error
		if err == nil {
			member := models.GroupMember{GroupID: groupID, UserID: existingUser.ID, Role: models.RoleMember}
			if err := db.Where(models.GroupMember{GroupID: groupID, UserID: existingUser.ID}).FirstOrCreate(&member).Error; err != nil {
				return "", fmt.Errorf("add member: %w", err)
			}
			logger.L().Infow("✅ Added existing user to group", "user_id", existingUser.ID, "group_id", groupID)
			return InviteAddedGroup, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("look up user: %w", err)
		}
	}

	query := db.Model(&models.Invitation{}).Where("group_id = ? AND status = ?", groupID, models.InvitationPending)
	if email != "" {
		query = query.Where("email = ?", email)
	} else {
		query = query.Where("phone = ?", phone)
	}
	var pending int64
	if err := query.Count(&pending).Error; err != nil {
		return "", fmt.Errorf("check invitations: %w", err)
	}
	if pending > 0 {
		return InviteDuplicate, nil
	}

	invitation := models.Invitation{
		GroupID:   groupID,
		InvitedBy: invitedBy,
		Email:     email,
		Phone:     phone,
		Status:    models.InvitationPending,
	}
	if err := db.Omit("Group", "Inviter").Create(&invitation).Error; err != nil {
		return "", fmt.Errorf("create invitation: %w", err)
	}

	if email != "" && s.notifier != nil {
		var inviter models.User
		var group models.Group
		if err := db.First(&inviter, "id = ?", invitedBy).Error; err != nil {
			logger.L().Warnw("inviter lookup failed", "user_id", invitedBy, "error", err)
		}
		if err := db.First(&group, "id = ?", groupID).Error; err != nil {
			logger.L().Warnw("invitation not emailed: group lookup failed", "group_id", groupID, "error", err)
		} else {
			inviterName := inviter.DisplayName()
			s.bg.Go("invitation email", func(ctx context.Context) {
				s.notifier.NotifyInvitation(ctx, email, inviterName, group.Name)
			})
		}
	}

	logger.L().Infow("✅ Invitation created", "group_id", groupID, "invitation_id", invitation.ID)
	return InviteSent, nil
}
