package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"splitledger/models"
	"splitledger/services"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// POST /api/groups/:id/expenses
func (h *Handler) CreateExpense(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var req models.CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	paidBy := userID
	if req.PaidBy != "" {
		parsed, err := uuid.Parse(req.PaidBy)
		if err != nil {
			utils.BadRequest(c, "Invalid paid_by user ID")
			return
		}
		paidBy = parsed
	}

	var expenseDate time.Time
	if req.ExpenseDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpenseDate)
		if err != nil {
			utils.BadRequest(c, "expense_date must be YYYY-MM-DD")
			return
		}
		expenseDate = parsed
	}

	currency := strings.ToUpper(req.Currency)
	if currency == "" {
		currency = h.cfg.DefaultCurrency
	}

	memberIDs, err := h.members.MemberIDs(ctx, groupID)
	if err != nil {
		h.respondError(c, err, "Failed to load group members")
		return
	}
	split, err := buildSplit(req.SplitType, req.Splits, memberIDs)
	if err != nil {
		h.respondError(c, err, "Failed to build split")
		return
	}

	expense, err := h.ledger.CreateExpense(ctx, services.ExpenseInput{
		GroupID:     groupID,
		ActorID:     userID,
		PaidBy:      paidBy,
		Description: req.Description,
		Amount:      req.Amount,
		Currency:    currency,
		Category:    req.Category,
		Notes:       req.Notes,
		ExpenseDate: expenseDate,
		Split:       split,
	})
	if err != nil {
		h.respondError(c, err, "Failed to create expense")
		return
	}

	users := h.usersByID(ctx, memberIDs)
	creator := users[userID]
	h.logActivity(ctx, models.NewActivity(groupID, userID, models.ActivityExpenseAdded, expense.ID,
		fmt.Sprintf("%s added \"%s\" (%s %s)", creator.DisplayName(), expense.Description, expense.Currency, expense.Amount.StringFixed(2))))

	if group, ok := h.loadGroup(ctx, groupID); ok {
		added, payer := *expense, users[expense.PaidBy]
		h.bg.Go("expense notification", func(ctx context.Context) {
			h.notifier.NotifyExpenseAdded(ctx, added, payer, group, users)
		})
	}

	utils.SuccessResponse(c, http.StatusCreated, "Expense added", h.buildExpenseResponse(c, expense, users))
}

// GET /api/groups/:id/expenses
func (h *Handler) GetGroupExpenses(c *gin.Context) {
	ctx := c.Request.Context()
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}
	if !h.requireMember(c, groupID) {
		return
	}

	var pagination utils.PaginationQuery
	_ = c.ShouldBindQuery(&pagination)
	pagination.Normalize()

	var expenses []models.Expense
	err := h.db.WithContext(ctx).Where("group_id = ?", groupID).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		Order("expense_date DESC, created_at DESC").
		Offset(pagination.Offset()).
		Limit(pagination.Limit).
		Find(&expenses).Error
	if err != nil {
		h.respondError(c, err, "Failed to load expenses")
		return
	}

	var ids []uuid.UUID
	for _, e := range expenses {
		ids = append(ids, e.PaidBy)
		for _, p := range e.Participants {
			ids = append(ids, p.UserID)
		}
	}
	users := h.usersByID(ctx, ids)

	responses := make([]models.ExpenseResponse, 0, len(expenses))
	for i := range expenses {
		responses = append(responses, h.buildExpenseResponse(c, &expenses[i], users))
	}
	utils.SuccessResponse(c, http.StatusOK, "", responses)
}

// GET /api/expenses/:id
func (h *Handler) GetExpense(c *gin.Context) {
	ctx := c.Request.Context()
	expenseID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	var expense models.Expense
	err := h.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		First(&expense, "id = ?", expenseID).Error
	if err != nil {
		utils.NotFound(c, "Expense not found")
		return
	}
	if !h.requireMember(c, expense.GroupID) {
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", h.buildExpenseResponse(c, &expense, nil))
}

// PUT /api/expenses/:id
func (h *Handler) UpdateExpense(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	expenseID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	var req models.UpdateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	var current models.Expense
	if err := h.db.WithContext(ctx).First(&current, "id = ?", expenseID).Error; err != nil {
		utils.NotFound(c, "Expense not found")
		return
	}

	patch := services.ExpensePatch{
		Description: req.Description,
		Amount:      req.Amount,
		Category:    req.Category,
		Notes:       req.Notes,
	}
	if req.PaidBy != "" {
		paidBy, err := uuid.Parse(req.PaidBy)
		if err != nil {
			utils.BadRequest(c, "Invalid paid_by user ID")
			return
		}
		patch.PaidBy = &paidBy
	}
	if req.SplitType != "" || len(req.Splits) > 0 {
		splitType := req.SplitType
		if splitType == "" {
			splitType = current.SplitType
		}
		memberIDs, err := h.members.MemberIDs(ctx, current.GroupID)
		if err != nil {
			h.respondError(c, err, "Failed to load group members")
			return
		}
		patch.Split, err = buildSplit(splitType, req.Splits, memberIDs)
		if err != nil {
			h.respondError(c, err, "Failed to build split")
			return
		}
	}

	expense, err := h.ledger.UpdateExpense(ctx, userID, expenseID, patch)
	if err != nil {
		h.respondError(c, err, "Failed to update expense")
		return
	}

	editor := h.usersByID(ctx, []uuid.UUID{userID})[userID]
	h.logActivity(ctx, models.NewActivity(expense.GroupID, userID, models.ActivityExpenseUpdated, expense.ID,
		fmt.Sprintf("%s updated \"%s\"", editor.DisplayName(), expense.Description)))

	utils.SuccessResponse(c, http.StatusOK, "Expense updated", h.buildExpenseResponse(c, expense, nil))
}

// DELETE /api/expenses/:id
func (h *Handler) DeleteExpense(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	expenseID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	expense, err := h.ledger.DeleteExpense(ctx, userID, expenseID)
	if err != nil {
		h.respondError(c, err, "Failed to delete expense")
		return
	}

	deleter := h.usersByID(ctx, []uuid.UUID{userID})[userID]
	h.logActivity(ctx, models.NewActivity(expense.GroupID, userID, models.ActivityExpenseDeleted, uuid.Nil,
		fmt.Sprintf("%s deleted \"%s\" (%s %s)", deleter.DisplayName(), expense.Description, expense.Currency, expense.Amount.StringFixed(2))))

	utils.SuccessResponse(c, http.StatusOK, "Expense deleted", nil)
}

// buildExpenseResponse attaches display names; users may be nil, in which
// case they are loaded.
func (h *Handler) buildExpenseResponse(c *gin.Context, expense *models.Expense, users map[uuid.UUID]models.User) models.ExpenseResponse {
	if users == nil {
		ids := []uuid.UUID{expense.PaidBy}
		for _, p := range expense.Participants {
			ids = append(ids, p.UserID)
		}
		users = h.usersByID(c.Request.Context(), ids)
	}

	payer := users[expense.PaidBy]
	splits := make([]models.ParticipantResult, len(expense.Participants))
	for i, p := range expense.Participants {
		user := users[p.UserID]
		splits[i] = models.ParticipantResult{
			UserID:     p.UserID,
			UserName:   user.DisplayName(),
			AmountOwed: p.AmountOwed,
			AmountPaid: p.AmountPaid,
		}
	}

	return models.ExpenseResponse{
		ID:          expense.ID,
		GroupID:     expense.GroupID,
		CreatedBy:   expense.CreatedBy,
		PaidBy:      expense.PaidBy,
		PayerName:   payer.DisplayName(),
		Description: expense.Description,
		Amount:      expense.Amount,
		Currency:    expense.Currency,
		Category:    expense.Category,
		SplitType:   expense.SplitType,
		Notes:       expense.Notes,
		ExpenseDate: expense.ExpenseDate,
		Splits:      splits,
		CreatedAt:   expense.CreatedAt,
	}
}
