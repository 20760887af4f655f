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
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	email := models.NormalizeEmail(req.Email)

	var existing models.User
	err := h.db.WithContext(ctx).Where("email = ?", email).First(&existing).Error
	if err == nil {
		utils.Conflict(c, "Email already registered")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		h.respondError(c, err, "Failed to check email")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.InternalError(c, "Failed to hash password")
		return
	}

	currency := strings.ToUpper(req.Currency)
	if len(currency) != 3 {
		currency = h.cfg.DefaultCurrency
	}

	user := models.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Phone:        req.Phone,
		PasswordHash: string(hashedPassword),
		Currency:     currency,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		h.respondError(c, err, "Failed to create user")
		return
	}

	registered := user
	h.bg.Go("accept invitations", func(ctx context.Context) {
		h.acceptPendingInvitations(ctx, registered)
	})

	h.respondWithToken(c, http.StatusCreated, "Registration successful", user)
}

// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	var user models.User
	if err := h.db.WithContext(c.Request.Context()).Where("email = ?", models.NormalizeEmail(req.Email)).First(&user).Error; err != nil {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.Unauthorized(c, "Invalid email or password")
		return
	}

	h.respondWithToken(c, http.StatusOK, "Login successful", user)
}

func (h *Handler) respondWithToken(c *gin.Context, status int, message string, user models.User) {
	token, expiresAt, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, user.Email, h.cfg.JWTTTL)
	if err != nil {
		h.respondError(c, err, "Failed to generate token")
		return
	}
	utils.SuccessResponse(c, status, message, models.AuthResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		User:      user.ToResponse(),
	})
}

// acceptPendingInvitations joins a new user to every group that invited
// their email or phone.
func (h *Handler) acceptPendingInvitations(ctx context.Context, user models.User) {
	db := h.db.WithContext(ctx)

	query := db.Where("status = ?", models.InvitationPending)
	if user.Phone != "" {
		query = query.Where("email = ? OR phone = ?", user.Email, user.Phone)
	} else {
		query = query.Where("email = ?", user.Email)
	}

	var invitations []models.Invitation
	if err := query.Find(&invitations).Error; err != nil {
		h.log.Warnw("pending invitation lookup failed", "user_id", user.ID, "error", err)
		return
	}

	for _, inv := range invitations {
		err := db.Transaction(func(tx *gorm.DB) error {
			member := models.GroupMember{GroupID: inv.GroupID, UserID: user.ID, Role: models.RoleMember}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&member).Error; err != nil {
				return err
			}
			return tx.Model(&models.Invitation{}).Where("id = ?", inv.ID).Update("status", models.InvitationAccepted).Error
		})
		if err != nil {
			h.log.Warnw("invitation not accepted", "invitation_id", inv.ID, "error", err)
			continue
		}

		group, _ := h.loadGroup(ctx, inv.GroupID)
		h.logActivity(ctx, models.NewActivity(inv.GroupID, user.ID, models.ActivityMemberJoined, user.ID,
			fmt.Sprintf("%s joined %s", user.DisplayName(), group.Name)))
	}
}
