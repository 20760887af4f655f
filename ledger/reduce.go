package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Aggregate is one participant's paid/owed totals summed over a whole group.
type Aggregate struct {
	ParticipantID string          `json:"participant_id"`
	TotalPaid     decimal.Decimal `json:"total_paid"`
	TotalOwed     decimal.Decimal `json:"total_owed"`
}

// NetBalance is TotalPaid - TotalOwed. Positive is owed money, negative owes.
type NetBalance struct {
	ParticipantID string          `json:"participant_id"`
	Net           decimal.Decimal `json:"net"`
}

// Transaction is one payment instruction produced by debt simplification.
type Transaction struct {
	From   string          `json:"from"`
	To     string          `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// NetBalances validates aggs and returns every participant's net balance,
// rounded to minor units and sorted by participant id. Settled participants
// are included with a zero net.
func NetBalances(aggs []Aggregate) ([]NetBalance, error) {
	seen := make(map[string]struct{}, len(aggs))
	nets := make([]NetBalance, 0, len(aggs))
	for _, a := range aggs {
		if err := checkAggregate(a); err != nil {
			return nil, err
		}
		if _, dup := seen[a.ParticipantID]; dup {
			return nil, &MalformedAggregateError{ParticipantID: a.ParticipantID, Reason: "participant appears more than once"}
		}
		seen[a.ParticipantID] = struct{}{}

		net := RoundMoney(a.TotalPaid.Sub(a.TotalOwed))
		if net.Abs().LessThan(Tolerance) {
			net = decimal.Zero
		}
		nets = append(nets, NetBalance{ParticipantID: a.ParticipantID, Net: net})
	}
	sort.Slice(nets, func(i, j int) bool { return nets[i].ParticipantID < nets[j].ParticipantID })
	return nets, nil
}

// Reduce nets aggs and greedily pairs debtors with creditors, both walked in
// participant id order. It returns at most debtors+creditors-1 transactions.
func Reduce(aggs []Aggregate) ([]Transaction, error) {
	nets, err := NetBalances(aggs)
	if err != nil {
		return nil, err
	}
	return ReduceNets(nets), nil
}

type party struct {
	id     string
	amount decimal.Decimal
}

// ReduceNets is Reduce for callers that already hold the output of
// NetBalances: nets must be validated, rounded and sorted by participant id.
func ReduceNets(nets []NetBalance) []Transaction {
	var debtors, creditors []party
	for _, n := range nets {
		switch {
		case n.Net.IsNegative():
			debtors = append(debtors, party{id: n.ParticipantID, amount: n.Net.Neg()})
		case n.Net.IsPositive():
			creditors = append(creditors, party{id: n.ParticipantID, amount: n.Net})
		}
	}

	txns := make([]Transaction, 0, len(debtors)+len(creditors))
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		settled := decimal.Min(debtors[i].amount, creditors[j].amount)
		txns = append(txns, Transaction{From: debtors[i].id, To: creditors[j].id, Amount: settled})

		debtors[i].amount = debtors[i].amount.Sub(settled)
		creditors[j].amount = creditors[j].amount.Sub(settled)

		if debtors[i].amount.IsZero() {
			i++
		}
		if creditors[j].amount.IsZero() {
			j++
		}
	}
	return txns
}

func checkAggregate(a Aggregate) error {
	if a.ParticipantID == "" {
		return &MalformedAggregateError{Reason: "participant id is empty"}
	}
	if a.TotalPaid.IsNegative() {
		return &MalformedAggregateError{ParticipantID: a.ParticipantID, Field: "total_paid", Value: a.TotalPaid, Reason: "is negative"}
	}
	if a.TotalOwed.IsNegative() {
		return &MalformedAggregateError{ParticipantID: a.ParticipantID, Field: "total_owed", Value: a.TotalOwed, Reason: "is negative"}
	}
	return nil
}
