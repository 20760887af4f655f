package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

var groupTypes = map[string]bool{"home": true, "trip": true, "couple": true, "other": true}

// NormalizeGroupType maps unknown or empty types to "other".
func NormalizeGroupType(t string) string {
	if groupTypes[t] {
		return t
	}
	return "other"
}

type Group struct {
	ID        uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string        `gorm:"not null;size:100" json:"name"`
	Type      string        `gorm:"default:other;size:20" json:"type"`
	ImageURL  string        `json:"image_url,omitempty"`
	CreatedBy uuid.UUID     `gorm:"type:uuid" json:"created_by"`
	Creator   User          `gorm:"foreignKey:CreatedBy" json:"creator,omitempty"`
	Members   []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	g.Type = NormalizeGroupType(g.Type)
	return nil
}

// MemberIDs returns the ids of the preloaded members in membership order.
func (g *Group) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.UserID
	}
	return ids
}

// HasMember reports whether userID is among the preloaded members.
func (g *Group) HasMember(userID uuid.UUID) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

type GroupMember struct {
	GroupID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"group_id"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey" json:"user_id"`
	User     User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role     string    `gorm:"default:member;size:20" json:"role"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

type CreateGroupRequest struct {
	Name    string   `json:"name" binding:"required,max=100"`
	Type    string   `json:"type"`
	Members []string `json:"members"` // user ids or emails
}

type UpdateGroupRequest struct {
	Name     string `json:"name" binding:"max=100"`
	Type     string `json:"type"`
	ImageURL string `json:"image_url"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

type GroupResponse struct {
	ID        uuid.UUID             `json:"id"`
	Name      string                `json:"name"`
	Type      string                `json:"type"`
	ImageURL  string                `json:"image_url,omitempty"`
	CreatedBy uuid.UUID             `json:"created_by"`
	Members   []GroupMemberResponse `json:"members"`
	CreatedAt time.Time             `json:"created_at"`
}

type GroupMemberResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
}

func (g *Group) ToResponse() GroupResponse {
	members := make([]GroupMemberResponse, len(g.Members))
	for i, m := range g.Members {
		members[i] = GroupMemberResponse{
			UserID:    m.UserID,
			Name:      m.User.DisplayName(),
			Email:     m.User.Email,
			AvatarURL: m.User.AvatarURL,
			Role:      m.Role,
			JoinedAt:  m.JoinedAt,
		}
	}
	return GroupResponse{
		ID:        g.ID,
		Name:      g.Name,
		Type:      g.Type,
		ImageURL:  g.ImageURL,
		CreatedBy: g.CreatedBy,
		Members:   members,
		CreatedAt: g.CreatedAt,
	}
}
