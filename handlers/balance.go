package handlers

import (
	"net/http"
	"sort"

	"splitledger/ledger"
	"splitledger/models"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GET /api/groups/:id/balances
func (h *Handler) GetGroupBalances(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)
	groupID, ok := utils.ParamUUID(c, "id")
	if !ok {
		return
	}

	gl, err := h.ledger.GroupBalances(ctx, userID, groupID)
	if err != nil {
		h.respondError(c, err, "Failed to compute balances")
		return
	}

	var group models.Group
	if err := h.db.WithContext(ctx).First(&group, "id = ?", groupID).Error; err != nil {
		utils.NotFound(c, "Group not found")
		return
	}

	totalSpent := decimal.Zero
	err = h.db.WithContext(ctx).Model(&models.Expense{}).
		Where("group_id = ?", groupID).
		Select("COALESCE(SUM(amount), 0)").
		Row().Scan(&totalSpent)
	if err != nil {
		h.log.Warnw("total spent query failed", "group_id", groupID, "error", err)
	}

	ids := make([]uuid.UUID, 0, len(gl.Aggregates))
	for _, a := range gl.Aggregates {
		if id, err := uuid.Parse(a.ParticipantID); err == nil {
			ids = append(ids, id)
		}
	}
	users := h.usersByID(ctx, ids)

	utils.SuccessResponse(c, http.StatusOK, "", models.GroupBalanceSummary{
		GroupID:    groupID,
		GroupName:  group.Name,
		Members:    memberNets(gl.Aggregates, gl.Nets, users),
		Balances:   namedTransactions(gl.Transactions, users, h.cfg.DefaultCurrency),
		TotalSpent: totalSpent,
	})
}

// GET /api/balances
func (h *Handler) GetOverallBalances(c *gin.Context) {
	ctx := c.Request.Context()
	userID := utils.GetCurrentUserID(c)

	totals, err := h.ledger.OverallBalances(ctx, userID)
	if err != nil {
		h.respondError(c, err, "Failed to compute balances")
		return
	}

	ids := make([]uuid.UUID, 0, len(totals)+1)
	ids = append(ids, userID)
	for id := range totals {
		ids = append(ids, id)
	}
	users := h.usersByID(ctx, ids)

	currency := users[userID].Currency
	if currency == "" {
		currency = h.cfg.DefaultCurrency
	}

	summary := models.OverallBalanceSummary{
		TotalOwed:  decimal.Zero,
		TotalOwing: decimal.Zero,
		Friends:    make([]models.FriendBalance, 0, len(totals)),
	}
	for id, amount := range totals {
		friend := users[id]
		summary.Friends = append(summary.Friends, models.FriendBalance{
			UserID:    id,
			Name:      friend.DisplayName(),
			Email:     friend.Email,
			AvatarURL: friend.AvatarURL,
			Amount:    amount,
			Currency:  currency,
		})
		if amount.IsPositive() {
			summary.TotalOwed = summary.TotalOwed.Add(amount)
		} else {
			summary.TotalOwing = summary.TotalOwing.Add(amount.Neg())
		}
	}
	sortFriends(summary.Friends)

	utils.SuccessResponse(c, http.StatusOK, "", summary)
}

// sortFriends orders by largest absolute balance, then by user id.
func sortFriends(friends []models.FriendBalance) {
	sort.Slice(friends, func(i, j int) bool {
		if c := friends[i].Amount.Abs().Cmp(friends[j].Amount.Abs()); c != 0 {
			return c > 0
		}
		return friends[i].UserID.String() < friends[j].UserID.String()
	})
}

func memberNets(aggs []ledger.Aggregate, nets []ledger.NetBalance, users map[uuid.UUID]models.User) []models.MemberNet {
	byID := make(map[string]ledger.Aggregate, len(aggs))
	for _, a := range aggs {
		byID[a.ParticipantID] = a
	}

	out := make([]models.MemberNet, 0, len(nets))
	for _, n := range nets {
		id, err := uuid.Parse(n.ParticipantID)
		if err != nil {
			continue
		}
		user := users[id]
		a := byID[n.ParticipantID]
		out = append(out, models.MemberNet{
			UserID: id,
			Name:   user.DisplayName(),
			Paid:   ledger.RoundMoney(a.TotalPaid),
			Owed:   ledger.RoundMoney(a.TotalOwed),
			Net:    n.Net,
		})
	}
	return out
}

func namedTransactions(txns []ledger.Transaction, users map[uuid.UUID]models.User, currency string) []models.Balance {
	out := make([]models.Balance, 0, len(txns))
	for _, t := range txns {
		from, errFrom := uuid.Parse(t.From)
		to, errTo := uuid.Parse(t.To)
		if errFrom != nil || errTo != nil {
			continue
		}
		fromUser, toUser := users[from], users[to]
		out = append(out, models.Balance{
			From:     from,
			FromName: fromUser.DisplayName(),
			To:       to,
			ToName:   toUser.DisplayName(),
			Amount:   t.Amount,
			Currency: currency,
		})
	}
	return out
}
