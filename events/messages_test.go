package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerEvent_JSONKeepsAmountExact(t *testing.T) {
	groupID, refID, actorID := uuid.New(), uuid.New(), uuid.New()
	event := NewLedgerEvent(ExpenseCreated, groupID, refID, actorID, decimal.RequireFromString("33.34"))

	body, err := event.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"amount":"33.34"`)
	assert.Contains(t, string(body), `"type":"expense.created"`)
	assert.NotContains(t, string(body), `"status"`)

	decoded, err := LedgerEventFromJSON(body)
	require.NoError(t, err)
	assert.Equal(t, groupID, decoded.GroupID)
	assert.Equal(t, refID, decoded.ReferenceID)
	assert.Equal(t, actorID, decoded.ActorID)
	assert.True(t, decoded.Amount.Equal(event.Amount))
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestLedgerEventFromJSON_RejectsGarbage(t *testing.T) {
	_, err := LedgerEventFromJSON([]byte("not json"))
	assert.Error(t, err)
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), NewLedgerEvent(ExpenseDeleted, uuid.New(), uuid.New(), uuid.New(), decimal.Zero)))
	assert.NoError(t, p.Close())
}
