package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors. Every validation failure matches ErrValidation via errors.Is,
// every aggregate failure matches ErrMalformedAggregate.
var (
	ErrValidation         = errors.New("ledger: validation failed")
	ErrMalformedAggregate = errors.New("ledger: malformed aggregate")
)

// ValidationError reports a malformed or missing field of an allocation request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ledger: validation failed for %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// UnbalancedSplitError is returned when exact amounts or percentages do not add up.
// Expected and Actual are in currency units for Exact and in percent for Percentage.
type UnbalancedSplitError struct {
	Strategy Strategy
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

// Discrepancy is how far the supplied sum is from the expected one.
// Positive means the split is short, negative means it overshoots.
func (e *UnbalancedSplitError) Discrepancy() decimal.Decimal {
	return e.Expected.Sub(e.Actual)
}

func (e *UnbalancedSplitError) Error() string {
	unit := ""
	if e.Strategy == StrategyPercentage {
		unit = "%"
	}
	return fmt.Sprintf("ledger: %s split adds up to %s%s, expected %s%s (off by %s%s)",
		e.Strategy,
		DisplayAmount(e.Actual), unit,
		DisplayAmount(e.Expected), unit,
		DisplayAmount(e.Discrepancy().Abs()), unit)
}

func (e *UnbalancedSplitError) Is(target error) bool { return target == ErrValidation }

// InvalidShareError is returned when a shares split cannot be apportioned.
type InvalidShareError struct {
	ParticipantID string
	TotalShares   int64
	Reason        string
}

func (e *InvalidShareError) Error() string {
	if e.ParticipantID != "" {
		return fmt.Sprintf("ledger: invalid shares for %s: %s", e.ParticipantID, e.Reason)
	}
	return fmt.Sprintf("ledger: invalid shares (total %d): %s", e.TotalShares, e.Reason)
}

func (e *InvalidShareError) Is(target error) bool { return target == ErrValidation }

// MalformedAggregateError signals corrupted upstream ledger data. It is never
// clamped away.
type MalformedAggregateError struct {
	ParticipantID string
	Field         string
	Value         decimal.Decimal
	Reason        string
}

func (e *MalformedAggregateError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("ledger: malformed aggregate for %q: %s", e.ParticipantID, e.Reason)
	}
	return fmt.Sprintf("ledger: malformed aggregate for %q: %s=%s %s",
		e.ParticipantID, e.Field, e.Value.String(), e.Reason)
}

func (e *MalformedAggregateError) Is(target error) bool { return target == ErrMalformedAggregate }

// IsValidation reports whether err is any kind of allocation input failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
