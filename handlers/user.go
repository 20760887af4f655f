package handlers

import (
	"net/http"
	"strings"

	"splitledger/models"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
)

// GET /api/users/me
func (h *Handler) GetProfile(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", userID).Error; err != nil {
		utils.NotFound(c, "User not found")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", user.ToResponse())
}

// PUT /api/users/me
func (h *Handler) UpdateProfile(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)

	var req models.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	var user models.User
	if err := h.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		utils.NotFound(c, "User not found")
		return
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if req.Phone != "" {
		updates["phone"] = req.Phone
	}
	if req.AvatarURL != "" {
		updates["avatar_url"] = req.AvatarURL
	}
	if currency := strings.ToUpper(req.Currency); len(currency) == 3 {
		updates["currency"] = currency
	}

	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			h.respondError(c, err, "Failed to update profile")
			return
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Profile updated", user.ToResponse())
}

// PUT /api/users/me/fcm-token
func (h *Handler) UpdateFCMToken(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req models.UpdateFCMTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	err := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", req.Token).Error
	if err != nil {
		h.respondError(c, err, "Failed to update FCM token")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "FCM token updated", nil)
}

// POST /api/users/search
func (h *Handler) SearchUsers(c *gin.Context) {
	var req models.SearchUsersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	pattern := "%" + escapeLike(strings.TrimSpace(req.Query)) + "%"
	var users []models.User
	err := h.db.WithContext(c.Request.Context()).
		Where("email ILIKE ? OR name ILIKE ? OR phone ILIKE ?", pattern, pattern, pattern).
		Order("name").
		Limit(20).
		Find(&users).Error
	if err != nil {
		h.respondError(c, err, "Failed to search users")
		return
	}

	responses := make([]models.UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, users[i].ToResponse())
	}

	utils.SuccessResponse(c, http.StatusOK, "", responses)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
