package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Strategy names the rule used to divide a total among participants.
type Strategy string

const (
	StrategyEqual      Strategy = "equal"
	StrategyExact      Strategy = "exact"
	StrategyPercentage Strategy = "percentage"
	StrategyShares     Strategy = "shares"
)

// Strategies lists every supported strategy in a stable order.
var Strategies = []Strategy{StrategyEqual, StrategyExact, StrategyPercentage, StrategyShares}

// ParseStrategy accepts a strategy name case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Strategies {
		if st == known {
			return st, nil
		}
	}
	return "", invalid("split_type", fmt.Sprintf("%q is not one of %v", s, Strategies))
}

// Split is the strategy-specific part of a request. The concrete types are
// EqualSplit, ExactSplit, PercentageSplit and SharesSplit.
type Split interface {
	Strategy() Strategy
	participantIDs() []string
}

// EqualSplit divides the total evenly.
type EqualSplit struct {
	Participants []string
}

// ExactAmount is one participant's fixed share.
type ExactAmount struct {
	ParticipantID string
	Amount        decimal.Decimal
}

// ExactSplit assigns every participant a fixed amount.
type ExactSplit struct {
	Amounts []ExactAmount
}

// Percentage is one participant's share in percent of the total.
type Percentage struct {
	ParticipantID string
	Percent       decimal.Decimal
}

// PercentageSplit divides the total by percentages summing to 100.
type PercentageSplit struct {
	Percentages []Percentage
}

// ShareCount is one participant's number of shares.
type ShareCount struct {
	ParticipantID string
	Count         int64
}

// SharesSplit divides the total proportionally to share counts.
type SharesSplit struct {
	Shares []ShareCount
}

func (EqualSplit) Strategy() Strategy      { return StrategyEqual }
func (ExactSplit) Strategy() Strategy      { return StrategyExact }
func (PercentageSplit) Strategy() Strategy { return StrategyPercentage }
func (SharesSplit) Strategy() Strategy     { return StrategyShares }

func (s EqualSplit) participantIDs() []string { return s.Participants }

func (s ExactSplit) participantIDs() []string {
	ids := make([]string, len(s.Amounts))
	for i, a := range s.Amounts {
		ids[i] = a.ParticipantID
	}
	return ids
}

func (s PercentageSplit) participantIDs() []string {
	ids := make([]string, len(s.Percentages))
	for i, p := range s.Percentages {
		ids[i] = p.ParticipantID
	}
	return ids
}

func (s SharesSplit) participantIDs() []string {
	ids := make([]string, len(s.Shares))
	for i, sc := range s.Shares {
		ids[i] = sc.ParticipantID
	}
	return ids
}

// Request is a single expense to allocate.
type Request struct {
	Total decimal.Decimal
	Payer string
	Split Split
}

// Allocation is one participant's row for one expense.
type Allocation struct {
	ParticipantID string          `json:"participant_id"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	AmountOwed    decimal.Decimal `json:"amount_owed"`
}

// Allocate computes paid/owed rows for every participant of req, in the order
// the participants were given. The owed amounts always add up to req.Total.
func Allocate(req Request) ([]Allocation, error) {
	total, err := validateTotal(req.Total)
	if err != nil {
		return nil, err
	}
	if req.Split == nil {
		return nil, invalid("split", "split strategy is required")
	}
	ids := req.Split.participantIDs()
	if err := validateParticipants(ids, req.Payer); err != nil {
		return nil, err
	}

	var owed []int64
	switch s := req.Split.(type) {
	case EqualSplit:
		owed = allocateEqual(total, ids)
	case *EqualSplit:
		owed = allocateEqual(total, ids)
	case ExactSplit:
		owed, err = allocateExact(req.Total, s)
	case *ExactSplit:
		owed, err = allocateExact(req.Total, *s)
	case PercentageSplit:
		owed, err = allocatePercentage(total, s)
	case *PercentageSplit:
		owed, err = allocatePercentage(total, *s)
	case SharesSplit:
		owed, err = allocateShares(total, s)
	case *SharesSplit:
		owed, err = allocateShares(total, *s)
	default:
		return nil, invalid("split", fmt.Sprintf("unsupported split type %T", req.Split))
	}
	if err != nil {
		return nil, err
	}

	paid := FromMinor(total)
	out := make([]Allocation, len(ids))
	for i, id := range ids {
		out[i] = Allocation{
			ParticipantID: id,
			AmountPaid:    decimal.Zero,
			AmountOwed:    FromMinor(owed[i]),
		}
		if id == req.Payer {
			out[i].AmountPaid = paid
		}
	}
	return out, nil
}

func validateTotal(total decimal.Decimal) (int64, error) {
	if !total.IsPositive() {
		return 0, invalid("total_amount", "must be greater than 0")
	}
	minor, ok := ToMinor(total)
	if !ok {
		return 0, invalid("total_amount", fmt.Sprintf("%s has more than %d decimal places or is too large", total, MinorUnitPlaces))
	}
	return minor, nil
}

func validateParticipants(ids []string, payer string) error {
	if len(ids) == 0 {
		return invalid("participants", "at least one participant is required")
	}
	if strings.TrimSpace(payer) == "" {
		return invalid("payer", "payer is required")
	}
	seen := make(map[string]struct{}, len(ids))
	payerFound := false
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("participants", "participant id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return invalid("participants", fmt.Sprintf("participant %s listed more than once", id))
		}
		seen[id] = struct{}{}
		if id == payer {
			payerFound = true
		}
	}
	if !payerFound {
		return invalid("payer", fmt.Sprintf("payer %s must be one of the participants", payer))
	}
	return nil
}

func allocateEqual(total int64, ids []string) []int64 {
	weights := make([]decimal.Decimal, len(ids))
	for i := range weights {
		weights[i] = decimal.NewFromInt(1)
	}
	return apportion(total, ids, weights)
}

func allocateExact(total decimal.Decimal, s ExactSplit) ([]int64, error) {
	owed := make([]int64, len(s.Amounts))
	sum := decimal.Zero
	for i, a := range s.Amounts {
		if a.Amount.IsNegative() {
			return nil, invalid("amount", fmt.Sprintf("exact amount for %s must not be negative", a.ParticipantID))
		}
		minor, ok := ToMinor(a.Amount)
		if !ok {
			return nil, invalid("amount", fmt.Sprintf("exact amount %s for %s has more than %d decimal places", a.Amount, a.ParticipantID, MinorUnitPlaces))
		}
		owed[i] = minor
		sum = sum.Add(a.Amount)
	}
	if !sum.Equal(total) {
		return nil, &UnbalancedSplitError{Strategy: StrategyExact, Expected: total, Actual: sum}
	}
	return owed, nil
}

var hundred = decimal.NewFromInt(100)

func allocatePercentage(total int64, s PercentageSplit) ([]int64, error) {
	ids := make([]string, len(s.Percentages))
	weights := make([]decimal.Decimal, len(s.Percentages))
	sum := decimal.Zero
	for i, p := range s.Percentages {
		if p.Percent.IsNegative() {
			return nil, invalid("percentage", fmt.Sprintf("percentage for %s must not be negative", p.ParticipantID))
		}
		ids[i] = p.ParticipantID
		weights[i] = p.Percent
		sum = sum.Add(p.Percent)
	}
	if !sum.Equal(hundred) {
		return nil, &UnbalancedSplitError{Strategy: StrategyPercentage, Expected: hundred, Actual: sum}
	}
	return apportion(total, ids, weights), nil
}

func allocateShares(total int64, s SharesSplit) ([]int64, error) {
	ids := make([]string, len(s.Shares))
	weights := make([]decimal.Decimal, len(s.Shares))
	sum := decimal.Zero
	for i, sc := range s.Shares {
		if sc.Count < 0 {
			return nil, &InvalidShareError{ParticipantID: sc.ParticipantID, Reason: "share count must not be negative"}
		}
		ids[i] = sc.ParticipantID
		weights[i] = decimal.NewFromInt(sc.Count)
		sum = sum.Add(weights[i])
	}
	// Counts are non-negative, so the sum can only fail to be positive at zero.
	if !sum.IsPositive() {
		return nil, &InvalidShareError{TotalShares: 0, Reason: "total shares must be greater than 0"}
	}
	return apportion(total, ids, weights), nil
}

// apportion divides total minor units proportionally to weights using the
// largest-remainder method. Leftover units go to the largest fractional
// remainders; ties go to the lexicographically smallest participant id.
// The weights must sum to a positive value.
func apportion(total int64, ids []string, weights []decimal.Decimal) []int64 {
	denom := decimal.Zero
	for _, w := range weights {
		denom = denom.Add(w)
	}

	out := make([]int64, len(weights))
	rems := make([]decimal.Decimal, len(weights))
	units := decimal.NewFromInt(total)
	var assigned int64
	for i, w := range weights {
		q, r := units.Mul(w).QuoRem(denom, 0)
		out[i] = q.IntPart()
		rems[i] = r
		assigned += out[i]
	}

	leftover := total - assigned
	if leftover == 0 {
		return out
	}

	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := rems[order[a]], rems[order[b]]
		if c := ra.Cmp(rb); c != 0 {
			return c > 0
		}
		return ids[order[a]] < ids[order[b]]
	})
	for k := int64(0); k < leftover; k++ {
		out[order[k]]++
	}
	return out
}
