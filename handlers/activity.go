package handlers

import (
	"net/http"

	"splitledger/models"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// GET /api/activity: feed across all of the caller's groups
func (h *Handler) GetActivity(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)

	var pagination utils.PaginationQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		utils.BadRequest(c, "Invalid pagination: "+err.Error())
		return
	}
	pagination.Normalize()

	groupIDs, err := h.members.GroupIDsForUser(ctx, userID)
	if err != nil {
		h.respondError(c, err, "Failed to load activity")
		return
	}

	activities := []models.Activity{}
	if len(groupIDs) > 0 {
		err := h.db.WithContext(ctx).Where("group_id IN ?", groupIDs).
			Preload("User").
			Order("created_at DESC").
			Offset(pagination.Offset()).
			Limit(pagination.Limit).
			Find(&activities).Error
		if err != nil {
			h.respondError(c, err, "Failed to load activity")
			return
		}

		groupNames := make(map[uuid.UUID]string)
		var groups []models.Group
		if err := h.db.WithContext(ctx).Select("id", "name").Where("id IN ?", groupIDs).Find(&groups).Error; err != nil {
			h.log.Warnw("group names lookup failed", "error", err)
		}
		for _, g := range groups {
			groupNames[g.ID] = g.Name
		}
		for i := range activities {
			activities[i].GroupName = groupNames[activities[i].GroupID]
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "", activities)
}

// GET /api/groups/:id/activity
func (h *Handler) GetGroupActivity(c *gin.Context) {
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var pagination utils.PaginationQuery
	if err := c.ShouldBindQuery(&pagination); err != nil {
		utils.BadRequest(c, "Invalid pagination: "+err.Error())
		return
	}
	pagination.Normalize()

	var activities []models.Activity
	err := h.db.WithContext(c.Request.Context()).Where("group_id = ?", groupID).
		Preload("User").
		Order("created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit).
		Find(&activities).Error
	if err != nil {
		h.respondError(c, err, "Failed to load activity")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", activities)
}
