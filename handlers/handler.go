package handlers

import (
	"context"
	"errors"
	"net/http"

	"splitledger/config"
	"splitledger/ledger"
	"splitledger/logger"
	"splitledger/models"
	"splitledger/services"
	"splitledger/store"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handler struct {
	db       *gorm.DB
	cfg      *config.Config
	ledger   *services.LedgerService
	members  store.MembershipStore
	invites  *services.InvitationService
	notifier services.Notifier
	bg       *services.Background
	log      *zap.SugaredLogger
}

func New(db *gorm.DB, cfg *config.Config, ledgerSvc *services.LedgerService, members store.MembershipStore, invites *services.InvitationService, notifier services.Notifier, bg *services.Background) *Handler {
	return &Handler{
		db:       db,
		cfg:      cfg,
		ledger:   ledgerSvc,
		members:  members,
		invites:  invites,
		notifier: notifier,
		bg:       bg,
		log:      logger.With("component", "http"),
	}
}

// loadGroup logs and reports false when the group cannot be read. Callers use
// it for side effects that are skipped rather than failed.
func (h *Handler) loadGroup(ctx context.Context, groupID uuid.UUID) (models.Group, bool) {
	var group models.Group
	if err := h.db.WithContext(ctx).First(&group, "id = ?", groupID).Error; err != nil {
		h.log.Warnw("group lookup failed", "group_id", groupID, "error", err)
		return group, false
	}
	return group, true
}

// requireMember answers 403 and returns false when the caller is not in the group.
func (h *Handler) requireMember(c *gin.Context, groupID uuid.UUID) bool {
	ok, err := h.members.IsMember(c.Request.Context(), groupID, utils.GetCurrentUserID(c))
	if err != nil {
		h.log.Errorw("membership check failed", "group_id", groupID, "error", err)
		utils.InternalError(c, "Failed to check group membership")
		return false
	}
	if !ok {
		utils.Forbidden(c, "You are not a member of this group")
		return false
	}
	return true
}

func (h *Handler) logActivity(ctx context.Context, a *models.Activity) {
	if err := h.db.WithContext(ctx).Omit("User").Create(a).Error; err != nil {
		h.log.Warnw("activity not recorded", "type", a.Type, "group_id", a.GroupID, "error", err)
	}
}

// usersByID loads users in one query. Missing ids are simply absent.
func (h *Handler) usersByID(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]models.User {
	out := make(map[uuid.UUID]models.User, len(ids))
	if len(ids) == 0 {
		return out
	}
	var users []models.User
	if err := h.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		h.log.Warnw("user lookup failed", "error", err)
		return out
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out
}

type splitErrorDetails struct {
	Field       string `json:"field,omitempty"`
	Strategy    string `json:"strategy,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Actual      string `json:"actual,omitempty"`
	Discrepancy string `json:"discrepancy,omitempty"`
	Participant string `json:"participant_id,omitempty"`
	TotalShares *int64 `json:"total_shares,omitempty"`
}

// respondError maps ledger, service and store errors onto HTTP statuses.
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	var (
		unbalanced *ledger.UnbalancedSplitError
		badShares  *ledger.InvalidShareError
		invalid    *ledger.ValidationError
		malformed  *ledger.MalformedAggregateError
	)

	switch {
	case errors.As(err, &unbalanced):
		utils.ErrorWithDetails(c, http.StatusUnprocessableEntity, unbalanced.Error(), splitErrorDetails{
			Strategy:    string(unbalanced.Strategy),
			Expected:    ledger.DisplayAmount(unbalanced.Expected),
			Actual:      ledger.DisplayAmount(unbalanced.Actual),
			Discrepancy: ledger.DisplayAmount(unbalanced.Discrepancy()),
		})
	case errors.As(err, &badShares):
		total := badShares.TotalShares
		utils.ErrorWithDetails(c, http.StatusUnprocessableEntity, badShares.Error(), splitErrorDetails{
			Strategy:    string(ledger.StrategyShares),
			Participant: badShares.ParticipantID,
			TotalShares: &total,
		})
	case errors.As(err, &invalid):
		utils.ErrorWithDetails(c, http.StatusUnprocessableEntity, invalid.Reason, splitErrorDetails{Field: invalid.Field})
	case errors.As(err, &malformed):
		h.log.Errorw("ledger aggregate is corrupt", "error", err)
		utils.InternalError(c, "Ledger data is inconsistent")
	case errors.Is(err, services.ErrNotMember):
		utils.Forbidden(c, "You are not a member of this group")
	case errors.Is(err, services.ErrNotSettlementSide):
		utils.Forbidden(c, err.Error())
	case errors.Is(err, services.ErrSettlementClosed):
		utils.Conflict(c, err.Error())
	case errors.Is(err, store.ErrNotFound):
		utils.NotFound(c, "Not found")
	default:
		h.log.Errorw(fallback, "error", err)
		utils.InternalError(c, fallback)
	}
}

func (h *Handler) Routes(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/health", h.Health)

	authGroup := r.Group("/auth")
	{
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
	}

	api := r.Group("/api")
	api.Use(auth)
	{
		// User
		api.GET("/users/me", h.GetProfile)
		api.PUT("/users/me", h.UpdateProfile)
		api.PUT("/users/me/fcm-token", h.UpdateFCMToken)
		api.POST("/users/search", h.SearchUsers)

		// Groups
		api.POST("/groups", h.CreateGroup)
		api.GET("/groups", h.GetGroups)
		api.GET("/groups/:id", h.GetGroup)
		api.PUT("/groups/:id", h.UpdateGroup)
		api.POST("/groups/:id/members", h.AddMember)
		api.DELETE("/groups/:id/members/:uid", h.RemoveMember)
		api.POST("/groups/:id/invite", h.InviteToGroup)

		// Expenses
		api.POST("/groups/:id/expenses", h.CreateExpense)
		api.GET("/groups/:id/expenses", h.GetGroupExpenses)
		api.GET("/expenses/:id", h.GetExpense)
		api.PUT("/expenses/:id", h.UpdateExpense)
		api.DELETE("/expenses/:id", h.DeleteExpense)

		// Balances
		api.GET("/groups/:id/balances", h.GetGroupBalances)
		api.GET("/balances", h.GetOverallBalances)

		// Settlements
		api.POST("/groups/:id/settle", h.CreateSettlement)
		api.GET("/groups/:id/settlements", h.GetGroupSettlements)
		api.PUT("/settlements/:id/status", h.UpdateSettlementStatus)

		// Activity
		api.GET("/activity", h.GetActivity)
		api.GET("/groups/:id/activity", h.GetGroupActivity)
	}
}

// GET /health
func (h *Handler) Health(c *gin.Context) {
	status := http.StatusOK
	dbStatus := "ok"
	if h.db == nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	} else if sqlDB, err := h.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
		dbStatus = "unavailable"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":   http.StatusText(status),
		"service":  h.cfg.AppName,
		"database": dbStatus,
	})
}
