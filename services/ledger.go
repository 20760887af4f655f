package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"splitledger/events"
	"splitledger/ledger"
	"splitledger/logger"
	"splitledger/models"
	"splitledger/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotMember         = errors.New("not a member of this group")
	ErrSettlementClosed  = errors.New("settlement is cancelled and can no longer change")
	ErrNotSettlementSide = errors.New("only the payer or the payee can change a settlement")
)

// overallFanOut bounds concurrent group reductions in OverallBalances.
const overallFanOut = 8

// LedgerService runs the allocator on writes and the reducer on reads.
type LedgerService struct {
	store   store.LedgerStore
	members store.MembershipStore
	events  events.Publisher
	log     *zap.SugaredLogger
}

func NewLedgerService(ls store.LedgerStore, ms store.MembershipStore, pub events.Publisher) *LedgerService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &LedgerService{
		store:   ls,
		members: ms,
		events:  pub,
		log:     logger.With("component", "ledger_service"),
	}
}

type ExpenseInput struct {
	GroupID     uuid.UUID
	ActorID     uuid.UUID
	PaidBy      uuid.UUID
	Description string
	Amount      decimal.Decimal
	Currency    string
	Category    string
	Notes       string
	ExpenseDate time.Time
	Split       ledger.Split
}

// ExpensePatch carries optional changes; zero values leave a field alone.
// A nil Split with a new Amount or PaidBy re-runs the stored split.
type ExpensePatch struct {
	Description string
	Amount      *decimal.Decimal
	Category    string
	Notes       string
	PaidBy      *uuid.UUID
	Split       ledger.Split
}

type SettlementInput struct {
	GroupID       uuid.UUID
	PaidBy        uuid.UUID
	PaidTo        uuid.UUID
	Amount        decimal.Decimal
	TransactionID string
	Status        string
	Notes         string
}

// GroupLedger is the read model for one group: aggregates, nets sorted by
// participant id and the simplified payment plan.
type GroupLedger struct {
	GroupID      uuid.UUID
	Aggregates   []ledger.Aggregate
	Nets         []ledger.NetBalance
	Transactions []ledger.Transaction
}

func (s *LedgerService) CreateExpense(ctx context.Context, in ExpenseInput) (*models.Expense, error) {
	if err := s.requireMember(ctx, in.GroupID, in.ActorID); err != nil {
		return nil, err
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		return nil, &ledger.ValidationError{Field: "description", Reason: "description is required"}
	}
	if in.PaidBy == uuid.Nil {
		in.PaidBy = in.ActorID
	}

	rows, err := s.allocate(ctx, in.GroupID, in.Amount, in.PaidBy, in.Split)
	if err != nil {
		return nil, err
	}

	expenseDate := in.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = time.Now()
	}
	expense := &models.Expense{
		GroupID:     in.GroupID,
		CreatedBy:   in.ActorID,
		PaidBy:      in.PaidBy,
		Description: description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
		SplitType:   string(in.Split.Strategy()),
		Notes:       in.Notes,
		ExpenseDate: expenseDate,
	}
	if err := s.store.AppendExpense(ctx, expense, rows); err != nil {
		return nil, fmt.Errorf("append expense: %w", err)
	}

	s.publish(ctx, events.NewLedgerEvent(events.ExpenseCreated, expense.GroupID, expense.ID, in.ActorID, expense.Amount))
	return expense, nil
}

func (s *LedgerService) UpdateExpense(ctx context.Context, actorID, expenseID uuid.UUID, patch ExpensePatch) (*models.Expense, error) {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, expense.GroupID, actorID); err != nil {
		return nil, err
	}

	if d := strings.TrimSpace(patch.Description); d != "" {
		expense.Description = d
	}
	if patch.Category != "" {
		expense.Category = patch.Category
	}
	if patch.Notes != "" {
		expense.Notes = patch.Notes
	}

	split := patch.Split
	if patch.Amount != nil {
		expense.Amount = *patch.Amount
	}
	if patch.PaidBy != nil {
		expense.PaidBy = *patch.PaidBy
	}
	if split == nil {
		split, err = SplitFromRows(ledger.Strategy(expense.SplitType), expense.Participants)
		if err != nil {
			return nil, err
		}
	}

	rows, err := s.allocate(ctx, expense.GroupID, expense.Amount, expense.PaidBy, split)
	if err != nil {
		return nil, err
	}
	expense.SplitType = string(split.Strategy())

	if err := s.store.ReplaceAllocations(ctx, expense, rows); err != nil {
		return nil, fmt.Errorf("replace allocations: %w", err)
	}

	s.publish(ctx, events.NewLedgerEvent(events.ExpenseUpdated, expense.GroupID, expense.ID, actorID, expense.Amount))
	return expense, nil
}

func (s *LedgerService) DeleteExpense(ctx context.Context, actorID, expenseID uuid.UUID) (*models.Expense, error) {
	expense, err := s.store.GetExpense(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, expense.GroupID, actorID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteExpense(ctx, expense.GroupID, expense.ID); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewLedgerEvent(events.ExpenseDeleted, expense.GroupID, expense.ID, actorID, expense.Amount))
	return expense, nil
}

// GroupBalances reduces the group's current aggregate. Nothing here is stored.
func (s *LedgerService) GroupBalances(ctx context.Context, actorID, groupID uuid.UUID) (*GroupLedger, error) {
	if err := s.requireMember(ctx, groupID, actorID); err != nil {
		return nil, err
	}
	return s.reduceGroup(ctx, groupID)
}

func (s *LedgerService) reduceGroup(ctx context.Context, groupID uuid.UUID) (*GroupLedger, error) {
	aggs, err := s.store.AggregateByParticipant(ctx, groupID)
	if err != nil {
		return nil, err
	}
	nets, err := ledger.NetBalances(aggs)
	if err != nil {
		s.log.Errorw("ledger integrity violation", "group_id", groupID, "error", err)
		return nil, err
	}
	return &GroupLedger{GroupID: groupID, Aggregates: aggs, Nets: nets, Transactions: ledger.ReduceNets(nets)}, nil
}

// OverallBalances folds every group's payment plan into one amount per
// counterparty. Positive means the counterparty owes userID.
func (s *LedgerService) OverallBalances(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]decimal.Decimal, error) {
	groupIDs, err := s.members.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	me := userID.String()
	var mu sync.Mutex
	totals := make(map[uuid.UUID]decimal.Decimal)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overallFanOut)
	for _, groupID := range groupIDs {
		groupID := groupID
		g.Go(func() error {
			gl, err := s.reduceGroup(gctx, groupID)
			if err != nil {
				return fmt.Errorf("group %s: %w", groupID, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, t := range gl.Transactions {
				switch me {
				case t.To:
					addTo(totals, t.From, t.Amount)
				case t.From:
					addTo(totals, t.To, t.Amount.Neg())
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for id, amount := range totals {
		if amount.IsZero() {
			delete(totals, id)
		}
	}
	return totals, nil
}

func addTo(totals map[uuid.UUID]decimal.Decimal, participant string, amount decimal.Decimal) {
	id, err := uuid.Parse(participant)
	if err != nil {
		return
	}
	totals[id] = totals[id].Add(amount)
}

func (s *LedgerService) RecordSettlement(ctx context.Context, in SettlementInput) (*models.Settlement, error) {
	if err := s.requireMember(ctx, in.GroupID, in.PaidBy); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, &ledger.ValidationError{Field: "amount", Reason: "must be greater than 0"}
	}
	if _, ok := ledger.ToMinor(in.Amount); !ok {
		return nil, &ledger.ValidationError{Field: "amount", Reason: fmt.Sprintf("%s has more than %d decimal places", in.Amount, ledger.MinorUnitPlaces)}
	}
	if in.PaidTo == in.PaidBy {
		return nil, &ledger.ValidationError{Field: "paid_to", Reason: "cannot settle with yourself"}
	}
	ok, err := s.members.IsMember(ctx, in.GroupID, in.PaidTo)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &ledger.ValidationError{Field: "paid_to", Reason: "payee is not a member of this group"}
	}

	status := in.Status
	if status == "" {
		status = models.SettlementCompleted
	}
	if status != models.SettlementPending && status != models.SettlementCompleted {
		return nil, &ledger.ValidationError{Field: "status", Reason: fmt.Sprintf("new settlements must be %s or %s", models.SettlementPending, models.SettlementCompleted)}
	}

	settlement := &models.Settlement{
		GroupID:       in.GroupID,
		PaidBy:        in.PaidBy,
		PaidTo:        in.PaidTo,
		Amount:        in.Amount,
		TransactionID: strings.TrimSpace(in.TransactionID),
		Status:        status,
		Notes:         in.Notes,
	}
	if err := s.store.RecordSettlement(ctx, settlement); err != nil {
		return nil, err
	}

	s.publish(ctx, events.NewLedgerEvent(events.SettlementRecorded, settlement.GroupID, settlement.ID, in.PaidBy, settlement.Amount))
	return settlement, nil
}

// UpdateSettlementStatus moves a settlement between pending and completed,
// or cancels it. Cancelled is final.
func (s *LedgerService) UpdateSettlementStatus(ctx context.Context, actorID, settlementID uuid.UUID, status string) (*models.Settlement, error) {
	if !models.ValidSettlementStatus(status) {
		return nil, &ledger.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMember(ctx, settlement.GroupID, actorID); err != nil {
		return nil, err
	}
	if actorID != settlement.PaidBy && actorID != settlement.PaidTo {
		return nil, ErrNotSettlementSide
	}
	if settlement.Status == status {
		return settlement, nil
	}
	if settlement.Status == models.SettlementCancelled {
		return nil, ErrSettlementClosed
	}

	if err := s.store.UpdateSettlementStatus(ctx, settlement.GroupID, settlement.ID, status); err != nil {
		return nil, err
	}
	settlement.Status = status

	ev := events.NewLedgerEvent(events.SettlementStatusChanged, settlement.GroupID, settlement.ID, actorID, settlement.Amount)
	ev.Status = status
	s.publish(ctx, ev)
	return settlement, nil
}

// allocate runs the split and checks that every participant belongs to the group.
func (s *LedgerService) allocate(ctx context.Context, groupID uuid.UUID, amount decimal.Decimal, paidBy uuid.UUID, split ledger.Split) ([]models.ExpenseParticipant, error) {
	if split == nil {
		return nil, &ledger.ValidationError{Field: "split", Reason: "split strategy is required"}
	}
	allocs, err := ledger.Allocate(ledger.Request{Total: amount, Payer: paidBy.String(), Split: split})
	if err != nil {
		return nil, err
	}

	memberIDs, err := s.members.MemberIDs(ctx, groupID)
	if err != nil {
		return nil, err
	}
	members := make(map[uuid.UUID]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = struct{}{}
	}

	weights := SplitWeights(split)
	rows := make([]models.ExpenseParticipant, len(allocs))
	for i, a := range allocs {
		uid, err := uuid.Parse(a.ParticipantID)
		if err != nil {
			return nil, &ledger.ValidationError{Field: "participants", Reason: fmt.Sprintf("invalid user id %q", a.ParticipantID)}
		}
		if _, ok := members[uid]; !ok {
			return nil, &ledger.ValidationError{Field: "participants", Reason: fmt.Sprintf("user %s is not a member of this group", uid)}
		}
		rows[i] = models.ExpenseParticipant{
			UserID:     uid,
			AmountPaid: a.AmountPaid,
			AmountOwed: a.AmountOwed,
			Weight:     weights[a.ParticipantID],
		}
	}
	return rows, nil
}

func (s *LedgerService) requireMember(ctx context.Context, groupID, userID uuid.UUID) error {
	ok, err := s.members.IsMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func (s *LedgerService) publish(ctx context.Context, event *events.LedgerEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warnw("ledger event not published", "type", event.Type, "group_id", event.GroupID, "error", err)
	}
}

// SplitWeights returns the per-participant strategy input that is stored next
// to each allocation row. Pointer splits are accepted like their values.
func SplitWeights(split ledger.Split) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	switch s := splitValue(split).(type) {
	case ledger.EqualSplit:
		for _, id := range s.Participants {
			out[id] = decimal.NewFromInt(1)
		}
	case ledger.ExactSplit:
		for _, a := range s.Amounts {
			out[a.ParticipantID] = a.Amount
		}
	case ledger.PercentageSplit:
		for _, p := range s.Percentages {
			out[p.ParticipantID] = p.Percent
		}
	case ledger.SharesSplit:
		for _, sc := range s.Shares {
			out[sc.ParticipantID] = decimal.NewFromInt(sc.Count)
		}
	}
	return out
}

func splitValue(split ledger.Split) ledger.Split {
	switch s := split.(type) {
	case *ledger.EqualSplit:
		if s != nil {
			return *s
		}
	case *ledger.ExactSplit:
		if s != nil {
			return *s
		}
	case *ledger.PercentageSplit:
		if s != nil {
			return *s
		}
	case *ledger.SharesSplit:
		if s != nil {
			return *s
		}
	}
	return split
}

// SplitFromRows rebuilds a split from stored allocation rows so an expense
// can be re-allocated after its amount or payer changes. Rows are taken in
// user id order.
func SplitFromRows(strategy ledger.Strategy, rows []models.ExpenseParticipant) (ledger.Split, error) {
	sorted := append([]models.ExpenseParticipant(nil), rows...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID.String() < sorted[j].UserID.String() })

	switch strategy {
	case ledger.StrategyEqual:
		ids := make([]string, len(sorted))
		for i, r := range sorted {
			ids[i] = r.UserID.String()
		}
		return ledger.EqualSplit{Participants: ids}, nil
	case ledger.StrategyExact:
		amounts := make([]ledger.ExactAmount, len(sorted))
		for i, r := range sorted {
			amounts[i] = ledger.ExactAmount{ParticipantID: r.UserID.String(), Amount: r.Weight}
		}
		return ledger.ExactSplit{Amounts: amounts}, nil
	case ledger.StrategyPercentage:
		pcts := make([]ledger.Percentage, len(sorted))
		for i, r := range sorted {
			pcts[i] = ledger.Percentage{ParticipantID: r.UserID.String(), Percent: r.Weight}
		}
		return ledger.PercentageSplit{Percentages: pcts}, nil
	case ledger.StrategyShares:
		shares := make([]ledger.ShareCount, len(sorted))
		for i, r := range sorted {
			shares[i] = ledger.ShareCount{ParticipantID: r.UserID.String(), Count: r.Weight.IntPart()}
		}
		return ledger.SharesSplit{Shares: shares}, nil
	}
	return nil, &ledger.ValidationError{Field: "split_type", Reason: fmt.Sprintf("stored split type %q is unknown", strategy)}
}
