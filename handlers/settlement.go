package handlers

import (
	"context"
	"fmt"
	"net/http"

	"splitledger/models"
	"splitledger/services"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POST /api/groups/:id/settle
func (h *Handler) CreateSettlement(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	var req models.CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	paidTo, err := uuid.Parse(req.PaidTo)
	if err != nil {
		utils.BadRequest(c, "Invalid paid_to user ID")
		return
	}

	settlement, err := h.ledger.RecordSettlement(ctx, services.SettlementInput{
		GroupID:       groupID,
		PaidBy:        userID,
		PaidTo:        paidTo,
		Amount:        req.Amount,
		TransactionID: req.TransactionID,
		Status:        req.Status,
		Notes:         req.Notes,
	})
	if err != nil {
		h.respondError(c, err, "Failed to record settlement")
		return
	}

	users := h.usersByID(ctx, []uuid.UUID{userID, paidTo})
	payer, payee := users[userID], users[paidTo]
	h.logActivity(ctx, models.NewActivity(groupID, userID, models.ActivitySettlement, settlement.ID,
		fmt.Sprintf("%s paid %s %s (%s)", payer.DisplayName(), payee.DisplayName(), settlement.Amount.StringFixed(2), settlement.Status)))

	if settlement.Status == models.SettlementCompleted {
		if group, ok := h.loadGroup(ctx, groupID); ok {
			done := *settlement
			h.bg.Go("settlement notification", func(ctx context.Context) {
				h.notifier.NotifySettlement(ctx, done, payer, payee, group)
			})
		}
	}

	utils.SuccessResponse(c, http.StatusCreated, "Settlement recorded", settlement)
}

// GET /api/groups/:id/settlements
func (h *Handler) GetGroupSettlements(c *gin.Context) {
	ctx := c.Request.Context()
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	query := h.db.WithContext(ctx).Where("group_id = ?", groupID)
	if status := c.Query("status"); status != "" {
		if !models.ValidSettlementStatus(status) {
			utils.BadRequest(c, "Invalid status filter")
			return
		}
		query = query.Where("status = ?", status)
	}

	var settlements []models.Settlement
	err := query.Preload("Payer").Preload("Payee").
		Order("created_at DESC").
		Find(&settlements).Error
	if err != nil {
		h.respondError(c, err, "Failed to load settlements")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", settlements)
}

// PUT /api/settlements/:id/status
func (h *Handler) UpdateSettlementStatus(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	settlementID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateSettlementStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	settlement, err := h.ledger.UpdateSettlementStatus(ctx, userID, settlementID, req.Status)
	if err != nil {
		h.respondError(c, err, "Failed to update settlement")
		return
	}

	users := h.usersByID(ctx, []uuid.UUID{userID, settlement.PaidBy, settlement.PaidTo})
	actor := users[userID]
	h.logActivity(ctx, models.NewActivity(settlement.GroupID, userID, models.ActivitySettlementStatus, settlement.ID,
		fmt.Sprintf("%s marked a payment of %s as %s", actor.DisplayName(), settlement.Amount.StringFixed(2), settlement.Status)))

	if settlement.Status == models.SettlementCompleted {
		if group, ok := h.loadGroup(ctx, settlement.GroupID); ok {
			done, payer, payee := *settlement, users[settlement.PaidBy], users[settlement.PaidTo]
			h.bg.Go("settlement notification", func(ctx context.Context) {
				h.notifier.NotifySettlement(ctx, done, payer, payee, group)
			})
		}
	}

	utils.SuccessResponse(c, http.StatusOK, "Settlement updated", settlement)
}
