package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"splitledger/ledger"
	"splitledger/logger"
	"splitledger/models"
	"splitledger/services"
	"splitledger/store"
	"splitledger/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func respond(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := &Handler{log: logger.L()}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	h.respondError(c, err, "Failed")

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestRespondError_UnbalancedSplitCarriesDiscrepancy(t *testing.T) {
	_, err := ledger.Allocate(ledger.Request{
		Total: decimal.NewFromInt(100),
		Payer: "a",
		Split: ledger.ExactSplit{Amounts: []ledger.ExactAmount{
			{ParticipantID: "a", Amount: decimal.NewFromInt(40)},
			{ParticipantID: "b", Amount: decimal.NewFromInt(50)},
		}},
	})
	require.Error(t, err)

	code, body := respond(t, fmt.Errorf("create: %w", err))
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, false, body["success"])
	details := body["error"].(map[string]interface{})
	assert.Equal(t, "exact", details["strategy"])
	assert.Equal(t, "100.00", details["expected"])
	assert.Equal(t, "90.00", details["actual"])
	assert.Equal(t, "10.00", details["discrepancy"])
}

func TestRespondError_SubCentPercentageDiscrepancy(t *testing.T) {
	_, err := ledger.Allocate(ledger.Request{
		Total: decimal.NewFromInt(100),
		Payer: "a",
		Split: ledger.PercentageSplit{Percentages: []ledger.Percentage{
			{ParticipantID: "a", Percent: decimal.RequireFromString("33.333")},
			{ParticipantID: "b", Percent: decimal.RequireFromString("33.333")},
			{ParticipantID: "c", Percent: decimal.RequireFromString("33.333")},
		}},
	})
	require.Error(t, err)

	code, body := respond(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	details := body["error"].(map[string]interface{})
	assert.Equal(t, "100.00", details["expected"])
	assert.Equal(t, "99.999", details["actual"])
	assert.Equal(t, "0.001", details["discrepancy"])
}

func TestRespondError_Statuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"validation", &ledger.ValidationError{Field: "payer", Reason: "missing"}, http.StatusUnprocessableEntity},
		{"invalid shares", &ledger.InvalidShareError{Reason: "total shares must be greater than 0"}, http.StatusUnprocessableEntity},
		{"malformed aggregate", &ledger.MalformedAggregateError{ParticipantID: "a", Reason: "bad"}, http.StatusInternalServerError},
		{"not member", services.ErrNotMember, http.StatusForbidden},
		{"not settlement side", services.ErrNotSettlementSide, http.StatusForbidden},
		{"closed settlement", services.ErrSettlementClosed, http.StatusConflict},
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := respond(t, tt.err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRespondError_ValidationNamesField(t *testing.T) {
	_, body := respond(t, &ledger.ValidationError{Field: "participants", Reason: "at least one participant is required"})
	assert.Equal(t, "at least one participant is required", body["message"])
	assert.Equal(t, "participants", body["error"].(map[string]interface{})["field"])
}

func TestMemberNetsAndTransactionsUseNames(t *testing.T) {
	aggs := []ledger.Aggregate{
		{ParticipantID: uidA.String(), TotalPaid: decimal.Zero, TotalOwed: decimal.NewFromInt(30)},
		{ParticipantID: uidB.String(), TotalPaid: decimal.NewFromInt(60), TotalOwed: decimal.NewFromInt(30)},
	}
	nets, err := ledger.NetBalances(aggs)
	require.NoError(t, err)
	txns, err := ledger.Reduce(aggs)
	require.NoError(t, err)

	users := map[uuid.UUID]models.User{
		uidA: {ID: uidA, Name: "Amy"},
		uidB: {ID: uidB, Email: "bea@example.com"},
	}

	members := memberNets(aggs, nets, users)
	require.Len(t, members, 2)
	assert.Equal(t, "Amy", members[0].Name)
	assert.Equal(t, "-30.00", members[0].Net.StringFixed(2))
	assert.Equal(t, "bea", members[1].Name)
	assert.Equal(t, "60.00", members[1].Paid.StringFixed(2))

	balances := namedTransactions(txns, users, "INR")
	require.Len(t, balances, 1)
	assert.Equal(t, uidA, balances[0].From)
	assert.Equal(t, "bea", balances[0].ToName)
	assert.Equal(t, "30.00", balances[0].Amount.StringFixed(2))
	assert.Equal(t, "INR", balances[0].Currency)
}

func TestSortFriends(t *testing.T) {
	friends := []models.FriendBalance{
		{UserID: uidC, Amount: decimal.NewFromInt(5)},
		{UserID: uidB, Amount: decimal.NewFromInt(-20)},
		{UserID: uidA, Amount: decimal.NewFromInt(5)},
	}
	sortFriends(friends)
	assert.Equal(t, []uuid.UUID{uidB, uidA, uidC}, []uuid.UUID{friends[0].UserID, friends[1].UserID, friends[2].UserID})
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `50\% off\_now`, escapeLike("50% off_now"))
}

func TestGetActivity_RejectsBadPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := &Handler{log: logger.L()}

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/activity?page=abc", nil)
	c.Set(utils.ContextUserID, uidA)

	h.GetActivity(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body["message"], "Invalid pagination")
}
