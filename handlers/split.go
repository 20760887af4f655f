package handlers

import (
	"fmt"

	"splitledger/ledger"
	"splitledger/models"

	"github.com/google/uuid"
)

// buildSplit turns request split rows into a ledger split. An equal split
// without rows covers every group member.
func buildSplit(splitType string, inputs []models.SplitInput, groupMembers []uuid.UUID) (ledger.Split, error) {
	strategy, err := ledger.ParseStrategy(splitType)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(inputs))
	for i, in := range inputs {
		uid, err := uuid.Parse(in.UserID)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "splits", Reason: fmt.Sprintf("invalid user id %q", in.UserID)}
		}
		ids[i] = uid.String()
	}

	if len(inputs) == 0 && strategy != ledger.StrategyEqual {
		return nil, &ledger.ValidationError{Field: "splits", Reason: fmt.Sprintf("splits are required for %s split type", strategy)}
	}

	switch strategy {
	case ledger.StrategyEqual:
		if len(ids) == 0 {
			for _, m := range groupMembers {
				ids = append(ids, m.String())
			}
		}
		return ledger.EqualSplit{Participants: ids}, nil

	case ledger.StrategyExact:
		amounts := make([]ledger.ExactAmount, len(inputs))
		for i, in := range inputs {
			amounts[i] = ledger.ExactAmount{ParticipantID: ids[i], Amount: in.Value}
		}
		return ledger.ExactSplit{Amounts: amounts}, nil

	case ledger.StrategyPercentage:
		pcts := make([]ledger.Percentage, len(inputs))
		for i, in := range inputs {
			pcts[i] = ledger.Percentage{ParticipantID: ids[i], Percent: in.Value}
		}
		return ledger.PercentageSplit{Percentages: pcts}, nil

	default:
		shares := make([]ledger.ShareCount, len(inputs))
		for i, in := range inputs {
			if !in.Value.IsInteger() {
				return nil, &ledger.InvalidShareError{ParticipantID: ids[i], Reason: fmt.Sprintf("share count %s is not a whole number", in.Value)}
			}
			shares[i] = ledger.ShareCount{ParticipantID: ids[i], Count: in.Value.IntPart()}
		}
		return ledger.SharesSplit{Shares: shares}, nil
	}
}
