package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"splitledger/models"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// POST /api/groups
func (h *Handler) CreateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	group := models.Group{
		Name:      strings.TrimSpace(req.Name),
		Type:      req.Type,
		CreatedBy: userID,
	}

	var toInvite []string
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&group).Error; err != nil {
			return err
		}
		if err := tx.Create(&models.GroupMember{GroupID: group.ID, UserID: userID, Role: models.RoleAdmin}).Error; err != nil {
			return err
		}

		for _, memberInput := range req.Members {
			memberID, err := uuid.Parse(memberInput)
			if err != nil {
				var user models.User
				if dbErr := tx.Where("email = ?", models.NormalizeEmail(memberInput)).First(&user).Error; dbErr != nil {
					toInvite = append(toInvite, memberInput)
					continue
				}
				memberID = user.ID
			}
			if memberID == userID {
				continue
			}
			member := models.GroupMember{GroupID: group.ID, UserID: memberID, Role: models.RoleMember}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.respondError(c, err, "Failed to create group")
		return
	}

	for _, email := range toInvite {
		if _, err := h.invites.Invite(ctx, group.ID, userID, email, ""); err != nil {
			h.log.Warnw("invitation failed", "group_id", group.ID, "error", err)
		}
	}

	creator := h.usersByID(ctx, []uuid.UUID{userID})[userID]
	h.logActivity(ctx, models.NewActivity(group.ID, userID, models.ActivityGroupCreated, group.ID,
		fmt.Sprintf("%s created group \"%s\"", creator.DisplayName(), group.Name)))

	h.respondGroup(c, http.StatusCreated, "Group created", group.ID)
}

// GET /api/groups
func (h *Handler) GetGroups(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)

	groupIDs, err := h.members.GroupIDsForUser(ctx, userID)
	if err != nil {
		h.respondError(c, err, "Failed to load groups")
		return
	}

	responses := make([]models.GroupResponse, 0, len(groupIDs))
	if len(groupIDs) > 0 {
		var groups []models.Group
		err := h.db.WithContext(ctx).Where("id IN ?", groupIDs).
			Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at") }).
			Preload("Members.User").
			Order("created_at DESC").
			Find(&groups).Error
		if err != nil {
			h.respondError(c, err, "Failed to load groups")
			return
		}
		for i := range groups {
			responses = append(responses, groups[i].ToResponse())
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "", responses)
}

// GET /api/groups/:id
func (h *Handler) GetGroup(c *gin.Context) {
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}
	h.respondGroup(c, http.StatusOK, "", groupID)
}

// PUT /api/groups/:id
func (h *Handler) UpdateGroup(c *gin.Context) {
	ctx := c.Request.Context()
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var req models.UpdateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.Type != "" {
		updates["type"] = models.NormalizeGroupType(req.Type)
	}
	if req.ImageURL != "" {
		updates["image_url"] = req.ImageURL
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
			h.respondError(c, err, "Failed to update group")
			return
		}
	}

	h.respondGroup(c, http.StatusOK, "Group updated", groupID)
}

// POST /api/groups/:id/members
func (h *Handler) AddMember(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var req models.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	target, err := h.findUser(ctx, req)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if req.Email == "" && req.Phone == "" {
			utils.NotFound(c, "User not found")
			return
		}
		outcome, err := h.invites.Invite(ctx, groupID, userID, req.Email, req.Phone)
		if err != nil {
			h.respondError(c, err, "Failed to send invitation")
			return
		}
		utils.SuccessResponse(c, http.StatusOK, "Invitation sent", gin.H{"outcome": outcome})
		return
	}
	if err != nil {
		h.respondError(c, err, "Failed to look up user")
		return
	}

	already, err := h.members.IsMember(ctx, groupID, target.ID)
	if err != nil {
		h.respondError(c, err, "Failed to check membership")
		return
	}
	if already {
		utils.BadRequest(c, "User is already a member of this group")
		return
	}

	if err := h.db.WithContext(ctx).Create(&models.GroupMember{GroupID: groupID, UserID: target.ID, Role: models.RoleMember}).Error; err != nil {
		h.respondError(c, err, "Failed to add member")
		return
	}

	adder := h.usersByID(ctx, []uuid.UUID{userID})[userID]
	group, found := h.loadGroup(ctx, groupID)

	h.logActivity(ctx, models.NewActivity(groupID, userID, models.ActivityMemberJoined, target.ID,
		fmt.Sprintf("%s added %s to %s", adder.DisplayName(), target.DisplayName(), group.Name)))

	if found {
		member := *target
		h.bg.Go("member notification", func(ctx context.Context) {
			h.notifier.NotifyMemberAdded(ctx, group, adder, member)
		})
	}

	utils.SuccessResponse(c, http.StatusOK, "Member added", target.ToResponse())
}

func (h *Handler) findUser(ctx context.Context, req models.AddMemberRequest) (*models.User, error) {
	db := h.db.WithContext(ctx)
	var user models.User
	if req.UserID != "" {
		if id, err := uuid.Parse(req.UserID); err == nil {
			if err := db.First(&user, "id = ?", id).Error; err == nil {
				return &user, nil
			}
		}
	}
	if req.Email != "" {
		if err := db.Where("email = ?", models.NormalizeEmail(req.Email)).First(&user).Error; err == nil {
			return &user, nil
		}
	}
	if req.Phone != "" {
		if err := db.Where("phone = ?", req.Phone).First(&user).Error; err == nil {
			return &user, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// DELETE /api/groups/:id/members/:uid
// Members with a non-zero net balance in the group cannot be removed.
func (h *Handler) RemoveMember(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	memberID, ok := utils.ParamUUID(c, "uid")
	if !ok {
		return
	}

	var membership models.GroupMember
	if err := h.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&membership).Error; err != nil {
		utils.Forbidden(c, "You are not a member of this group")
		return
	}
	if membership.Role != models.RoleAdmin && userID != memberID {
		utils.Forbidden(c, "Only admins can remove other members")
		return
	}

	gl, err := h.ledger.GroupBalances(ctx, userID, groupID)
	if err != nil {
		h.respondError(c, err, "Failed to compute balances")
		return
	}
	for _, n := range gl.Nets {
		if n.ParticipantID == memberID.String() && !n.Net.IsZero() {
			utils.Conflict(c, fmt.Sprintf("Member still has an open balance of %s", n.Net.StringFixed(2)))
			return
		}
	}

	res := h.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, memberID).Delete(&models.GroupMember{})
	if res.Error != nil {
		h.respondError(c, res.Error, "Failed to remove member")
		return
	}
	if res.RowsAffected == 0 {
		utils.NotFound(c, "Member not found")
		return
	}

	removed := h.usersByID(ctx, []uuid.UUID{memberID})[memberID]
	group, _ := h.loadGroup(ctx, groupID)
	h.logActivity(ctx, models.NewActivity(groupID, userID, models.ActivityMemberLeft, memberID,
		fmt.Sprintf("%s left %s", removed.DisplayName(), group.Name)))

	utils.SuccessResponse(c, http.StatusOK, "Member removed", nil)
}

// POST /api/groups/:id/invite
func (h *Handler) InviteToGroup(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var req models.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if req.Email == "" && req.Phone == "" {
		utils.BadRequest(c, "Email or phone required")
		return
	}

	outcome, err := h.invites.Invite(ctx, groupID, userID, req.Email, req.Phone)
	if err != nil {
		h.respondError(c, err, "Failed to send invitation")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Invitation sent", gin.H{"outcome": outcome})
}

func (h *Handler) respondGroup(c *gin.Context, status int, message string, groupID uuid.UUID) {
	var group models.Group
	err := h.db.WithContext(c.Request.Context()).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("joined_at") }).
		Preload("Members.User").
		First(&group, "id = ?", groupID).Error
	if err != nil {
		utils.NotFound(c, "Group not found")
		return
	}
	utils.SuccessResponse(c, status, message, group.ToResponse())
}
