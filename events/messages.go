package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Routing keys on the ledger exchange.
const (
	ExpenseCreated          = "expense.created"
	ExpenseUpdated          = "expense.updated"
	ExpenseDeleted          = "expense.deleted"
	SettlementRecorded      = "settlement.recorded"
	SettlementStatusChanged = "settlement.status_changed"
)

// LedgerEvent is a lightweight notice that a group's ledger changed.
// Consumers reload whatever they need from the API.
type LedgerEvent struct {
	Type        string          `json:"type"`
	GroupID     uuid.UUID       `json:"group_id"`
	ReferenceID uuid.UUID       `json:"reference_id"`
	ActorID     uuid.UUID       `json:"actor_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

func NewLedgerEvent(kind string, groupID, referenceID, actorID uuid.UUID, amount decimal.Decimal) *LedgerEvent {
	return &LedgerEvent{
		Type:        kind,
		GroupID:     groupID,
		ReferenceID: referenceID,
		ActorID:     actorID,
		Amount:      amount,
		Timestamp:   time.Now().UTC(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
