package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"splitledger/events"
	"splitledger/ledger"
	"splitledger/models"
	"splitledger/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory LedgerStore with the same aggregation rules as
// the SQL query.
type memStore struct {
	mu          sync.Mutex
	expenses    map[uuid.UUID]*models.Expense
	settlements map[uuid.UUID]*models.Settlement
}

func newMemStore() *memStore {
	return &memStore{
		expenses:    make(map[uuid.UUID]*models.Expense),
		settlements: make(map[uuid.UUID]*models.Settlement),
	}
}

func (m *memStore) AppendExpense(_ context.Context, e *models.Expense, rows []models.ExpenseParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	cp := *e
	cp.Participants = append([]models.ExpenseParticipant(nil), rows...)
	m.expenses[e.ID] = &cp
	e.Participants = rows
	return nil
}

func (m *memStore) ReplaceAllocations(_ context.Context, e *models.Expense, rows []models.ExpenseParticipant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.expenses[e.ID]; !ok {
		return store.ErrNotFound
	}
	cp := *e
	cp.Participants = append([]models.ExpenseParticipant(nil), rows...)
	m.expenses[e.ID] = &cp
	e.Participants = rows
	return nil
}

func (m *memStore) DeleteExpense(_ context.Context, groupID, expenseID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[expenseID]
	if !ok || e.GroupID != groupID {
		return store.ErrNotFound
	}
	delete(m.expenses, expenseID)
	return nil
}

func (m *memStore) GetExpense(_ context.Context, id uuid.UUID) (*models.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	cp.Participants = append([]models.ExpenseParticipant(nil), e.Participants...)
	return &cp, nil
}

func (m *memStore) RecordSettlement(_ context.Context, s *models.Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	cp := *s
	m.settlements[s.ID] = &cp
	return nil
}

func (m *memStore) UpdateSettlementStatus(_ context.Context, groupID, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[id]
	if !ok || s.GroupID != groupID {
		return store.ErrNotFound
	}
	s.Status = status
	return nil
}

func (m *memStore) GetSettlement(_ context.Context, id uuid.UUID) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) AggregateByParticipant(_ context.Context, groupID uuid.UUID) ([]ledger.Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byUser := make(map[string]*ledger.Aggregate)
	get := func(id uuid.UUID) *ledger.Aggregate {
		a, ok := byUser[id.String()]
		if !ok {
			a = &ledger.Aggregate{ParticipantID: id.String(), TotalPaid: decimal.Zero, TotalOwed: decimal.Zero}
			byUser[id.String()] = a
		}
		return a
	}
	for _, e := range m.expenses {
		if e.GroupID != groupID {
			continue
		}
		for _, r := range e.Participants {
			a := get(r.UserID)
			a.TotalPaid = a.TotalPaid.Add(r.AmountPaid)
			a.TotalOwed = a.TotalOwed.Add(r.AmountOwed)
		}
	}
	for _, s := range m.settlements {
		if s.GroupID != groupID || s.Status != models.SettlementCompleted {
			continue
		}
		payer := get(s.PaidBy)
		payer.TotalPaid = payer.TotalPaid.Add(s.Amount)
		payee := get(s.PaidTo)
		payee.TotalOwed = payee.TotalOwed.Add(s.Amount)
	}
	out := make([]ledger.Aggregate, 0, len(byUser))
	for _, a := range byUser {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

type memMembers struct {
	groups map[uuid.UUID][]uuid.UUID
}

func (m *memMembers) IsMember(_ context.Context, groupID, userID uuid.UUID) (bool, error) {
	for _, id := range m.groups[groupID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memMembers) MemberIDs(_ context.Context, groupID uuid.UUID) ([]uuid.UUID, error) {
	return m.groups[groupID], nil
}

func (m *memMembers) GroupIDsForUser(_ context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for g, ids := range m.groups {
		for _, id := range ids {
			if id == userID {
				out = append(out, g)
			}
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []*events.LedgerEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e *events.LedgerEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc     *LedgerService
	store   *memStore
	pub     *recordingPublisher
	group   uuid.UUID
	a, b, c uuid.UUID
}

// Member ids are fixed so that sorted-id tie-breaks are predictable.
func newFixture() *fixture {
	f := &fixture{
		store: newMemStore(),
		pub:   &recordingPublisher{},
		group: uuid.MustParse("00000000-0000-0000-0000-0000000000aa"),
		a:     uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		b:     uuid.MustParse("00000000-0000-0000-0000-000000000002"),
		c:     uuid.MustParse("00000000-0000-0000-0000-000000000003"),
	}
	members := &memMembers{groups: map[uuid.UUID][]uuid.UUID{f.group: {f.a, f.b, f.c}}}
	f.svc = NewLedgerService(f.store, members, f.pub)
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func (f *fixture) equalExpense(t *testing.T, payer uuid.UUID, amount string) *models.Expense {
	t.Helper()
	e, err := f.svc.CreateExpense(context.Background(), ExpenseInput{
		GroupID:     f.group,
		ActorID:     payer,
		Description: "dinner",
		Amount:      dec(amount),
		Split:       ledger.EqualSplit{Participants: []string{f.a.String(), f.b.String(), f.c.String()}},
	})
	require.NoError(t, err)
	return e
}

func TestLedgerService_CreateExpenseAndReduce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	e := f.equalExpense(t, f.b, "90")
	assert.Equal(t, f.b, e.PaidBy)
	assert.Equal(t, "equal", e.SplitType)
	require.Len(t, e.Participants, 3)
	for _, r := range e.Participants {
		assert.Equal(t, "30.00", r.AmountOwed.StringFixed(2))
		assert.True(t, r.Weight.Equal(decimal.NewFromInt(1)))
	}

	gl, err := f.svc.GroupBalances(ctx, f.a, f.group)
	require.NoError(t, err)
	require.Len(t, gl.Transactions, 2)
	assert.Equal(t, f.a.String(), gl.Transactions[0].From)
	assert.Equal(t, f.b.String(), gl.Transactions[0].To)
	assert.Equal(t, "30.00", gl.Transactions[0].Amount.StringFixed(2))
	assert.Equal(t, f.c.String(), gl.Transactions[1].From)
	assert.Equal(t, []string{events.ExpenseCreated}, f.pub.types())
}

func TestLedgerService_CreateExpenseRejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	outsider := uuid.New()

	_, err := f.svc.CreateExpense(ctx, ExpenseInput{GroupID: f.group, ActorID: outsider, Description: "x", Amount: dec("10"),
		Split: ledger.EqualSplit{Participants: []string{outsider.String()}}})
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.svc.CreateExpense(ctx, ExpenseInput{GroupID: f.group, ActorID: f.a, Description: "  ", Amount: dec("10"),
		Split: ledger.EqualSplit{Participants: []string{f.a.String()}}})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = f.svc.CreateExpense(ctx, ExpenseInput{GroupID: f.group, ActorID: f.a, Description: "x", Amount: dec("10"),
		Split: ledger.EqualSplit{Participants: []string{f.a.String(), outsider.String()}}})
	var ve *ledger.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "participants", ve.Field)

	_, err = f.svc.CreateExpense(ctx, ExpenseInput{GroupID: f.group, ActorID: f.a, Description: "x", Amount: dec("100"),
		Split: ledger.ExactSplit{Amounts: []ledger.ExactAmount{{ParticipantID: f.a.String(), Amount: dec("40")}, {ParticipantID: f.b.String(), Amount: dec("50")}}}})
	var unbalanced *ledger.UnbalancedSplitError
	require.True(t, errors.As(err, &unbalanced))
	assert.Equal(t, "10", unbalanced.Discrepancy().String())

	assert.Empty(t, f.pub.types())
}

func TestLedgerService_PayerDiffersFromCreator(t *testing.T) {
	f := newFixture()
	e, err := f.svc.CreateExpense(context.Background(), ExpenseInput{
		GroupID:     f.group,
		ActorID:     f.a,
		PaidBy:      f.c,
		Description: "taxi",
		Amount:      dec("100"),
		Split:       ledger.SharesSplit{Shares: []ledger.ShareCount{{ParticipantID: f.a.String(), Count: 1}, {ParticipantID: f.c.String(), Count: 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, f.a, e.CreatedBy)
	assert.Equal(t, f.c, e.PaidBy)
	assert.Equal(t, "25.00", e.Participants[0].AmountOwed.StringFixed(2))
	assert.True(t, e.Participants[0].AmountPaid.IsZero())
	assert.Equal(t, "75.00", e.Participants[1].AmountOwed.StringFixed(2))
	assert.Equal(t, "100.00", e.Participants[1].AmountPaid.StringFixed(2))
}

func TestLedgerService_UpdateExpenseRerunsStoredSplit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.CreateExpense(ctx, ExpenseInput{
		GroupID:     f.group,
		ActorID:     f.a,
		Description: "rent",
		Amount:      dec("200"),
		Split: ledger.PercentageSplit{Percentages: []ledger.Percentage{
			{ParticipantID: f.a.String(), Percent: dec("50")},
			{ParticipantID: f.b.String(), Percent: dec("30")},
			{ParticipantID: f.c.String(), Percent: dec("20")},
		}},
	})
	require.NoError(t, err)

	amount := dec("100")
	updated, err := f.svc.UpdateExpense(ctx, f.b, e.ID, ExpensePatch{Amount: &amount, Description: "rent (half)"})
	require.NoError(t, err)
	assert.Equal(t, "rent (half)", updated.Description)
	assert.Equal(t, "percentage", updated.SplitType)

	owed := map[uuid.UUID]string{}
	for _, r := range updated.Participants {
		owed[r.UserID] = r.AmountOwed.StringFixed(2)
	}
	assert.Equal(t, map[uuid.UUID]string{f.a: "50.00", f.b: "30.00", f.c: "20.00"}, owed)
	assert.Equal(t, []string{events.ExpenseCreated, events.ExpenseUpdated}, f.pub.types())
}

func TestLedgerService_UpdateExpenseChangesStrategy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.equalExpense(t, f.a, "100")

	updated, err := f.svc.UpdateExpense(ctx, f.a, e.ID, ExpensePatch{
		Split: ledger.ExactSplit{Amounts: []ledger.ExactAmount{
			{ParticipantID: f.a.String(), Amount: dec("60")},
			{ParticipantID: f.b.String(), Amount: dec("40")},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "exact", updated.SplitType)
	require.Len(t, updated.Participants, 2)

	stored, err := f.store.GetExpense(ctx, e.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Participants, 2)
}

func TestLedgerService_DeleteExpense(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e := f.equalExpense(t, f.a, "30")

	_, err := f.svc.DeleteExpense(ctx, uuid.New(), e.ID)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = f.svc.DeleteExpense(ctx, f.b, e.ID)
	require.NoError(t, err)

	_, err = f.svc.DeleteExpense(ctx, f.b, e.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	gl, err := f.svc.GroupBalances(ctx, f.a, f.group)
	require.NoError(t, err)
	assert.Empty(t, gl.Transactions)
}

func TestLedgerService_SettlementsCloseTheLedger(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.equalExpense(t, f.b, "90")

	s, err := f.svc.RecordSettlement(ctx, SettlementInput{GroupID: f.group, PaidBy: f.a, PaidTo: f.b, Amount: dec("30"), TransactionID: " tx-1 "})
	require.NoError(t, err)
	assert.Equal(t, models.SettlementCompleted, s.Status)
	assert.Equal(t, "tx-1", s.TransactionID)

	pending, err := f.svc.RecordSettlement(ctx, SettlementInput{GroupID: f.group, PaidBy: f.c, PaidTo: f.b, Amount: dec("30"), Status: models.SettlementPending})
	require.NoError(t, err)

	gl, err := f.svc.GroupBalances(ctx, f.b, f.group)
	require.NoError(t, err)
	require.Len(t, gl.Transactions, 1)
	assert.Equal(t, f.c.String(), gl.Transactions[0].From)

	_, err = f.svc.UpdateSettlementStatus(ctx, f.b, pending.ID, models.SettlementCompleted)
	require.NoError(t, err)

	gl, err = f.svc.GroupBalances(ctx, f.b, f.group)
	require.NoError(t, err)
	assert.Empty(t, gl.Transactions)
	for _, n := range gl.Nets {
		assert.True(t, n.Net.IsZero())
	}
}

func TestLedgerService_SettlementStatusRules(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	s, err := f.svc.RecordSettlement(ctx, SettlementInput{GroupID: f.group, PaidBy: f.a, PaidTo: f.b, Amount: dec("5")})
	require.NoError(t, err)

	_, err = f.svc.UpdateSettlementStatus(ctx, f.c, s.ID, models.SettlementCancelled)
	assert.ErrorIs(t, err, ErrNotSettlementSide)

	_, err = f.svc.UpdateSettlementStatus(ctx, f.a, s.ID, "refunded")
	assert.ErrorIs(t, err, ledger.ErrValidation)

	got, err := f.svc.UpdateSettlementStatus(ctx, f.a, s.ID, models.SettlementCancelled)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementCancelled, got.Status)

	_, err = f.svc.UpdateSettlementStatus(ctx, f.a, s.ID, models.SettlementCompleted)
	assert.ErrorIs(t, err, ErrSettlementClosed)

	_, err = f.svc.UpdateSettlementStatus(ctx, f.a, uuid.New(), models.SettlementCompleted)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.Equal(t, []string{events.SettlementRecorded, events.SettlementStatusChanged}, f.pub.types())
}

func TestLedgerService_RecordSettlementValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	tests := []struct {
		name  string
		in    SettlementInput
		field string
	}{
		{"zero amount", SettlementInput{PaidTo: f.b, Amount: decimal.Zero}, "amount"},
		{"sub-cent amount", SettlementInput{PaidTo: f.b, Amount: dec("1.005")}, "amount"},
		{"self", SettlementInput{PaidTo: f.a, Amount: dec("1")}, "paid_to"},
		{"outsider", SettlementInput{PaidTo: uuid.New(), Amount: dec("1")}, "paid_to"},
		{"cancelled on create", SettlementInput{PaidTo: f.b, Amount: dec("1"), Status: models.SettlementCancelled}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.GroupID, tt.in.PaidBy = f.group, f.a
			_, err := f.svc.RecordSettlement(ctx, tt.in)
			var ve *ledger.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestLedgerService_OverallBalancesAcrossGroups(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.equalExpense(t, f.b, "90")

	second := uuid.New()
	members := &memMembers{groups: map[uuid.UUID][]uuid.UUID{
		f.group: {f.a, f.b, f.c},
		second:  {f.a, f.b},
	}}
	f.svc = NewLedgerService(f.store, members, f.pub)

	_, err := f.svc.CreateExpense(ctx, ExpenseInput{
		GroupID: second, ActorID: f.a, Description: "coffee", Amount: dec("10"),
		Split: ledger.EqualSplit{Participants: []string{f.a.String(), f.b.String()}},
	})
	require.NoError(t, err)

	totals, err := f.svc.OverallBalances(ctx, f.b)
	require.NoError(t, err)
	assert.Equal(t, "25.00", totals[f.a].StringFixed(2))
	assert.Equal(t, "30.00", totals[f.c].StringFixed(2))

	totals, err = f.svc.OverallBalances(ctx, f.a)
	require.NoError(t, err)
	assert.Equal(t, "-25.00", totals[f.b].StringFixed(2))
	_, hasC := totals[f.c]
	assert.False(t, hasC)
}

func TestLedgerService_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture()
	f.pub.err = errors.New("broker down")
	f.equalExpense(t, f.a, "12")
	assert.Len(t, f.pub.types(), 1)
}

func TestSplitFromRows_RoundTripsWeights(t *testing.T) {
	a, b := uuid.MustParse("00000000-0000-0000-0000-000000000001"), uuid.MustParse("00000000-0000-0000-0000-000000000002")
	rows := []models.ExpenseParticipant{
		{UserID: b, Weight: dec("3")},
		{UserID: a, Weight: dec("1")},
	}

	split, err := SplitFromRows(ledger.StrategyShares, rows)
	require.NoError(t, err)
	assert.Equal(t, ledger.SharesSplit{Shares: []ledger.ShareCount{
		{ParticipantID: a.String(), Count: 1},
		{ParticipantID: b.String(), Count: 3},
	}}, split)

	weights := SplitWeights(split)
	assert.True(t, weights[b.String()].Equal(dec("3")))

	_, err = SplitFromRows("thirds", rows)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSplitWeights_PointerSplits(t *testing.T) {
	shares := ledger.SharesSplit{Shares: []ledger.ShareCount{{ParticipantID: "a", Count: 2}, {ParticipantID: "b", Count: 5}}}
	assert.Equal(t, SplitWeights(shares), SplitWeights(&shares))

	equal := &ledger.EqualSplit{Participants: []string{"a", "b"}}
	assert.True(t, SplitWeights(equal)["b"].Equal(decimal.NewFromInt(1)))

	var missing *ledger.ExactSplit
	assert.Empty(t, SplitWeights(missing))
}

func TestLedgerService_PointerSplitSurvivesUpdate(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	e, err := f.svc.CreateExpense(ctx, ExpenseInput{
		GroupID:     f.group,
		ActorID:     f.a,
		Description: "groceries",
		Amount:      dec("40"),
		Split: &ledger.SharesSplit{Shares: []ledger.ShareCount{
			{ParticipantID: f.a.String(), Count: 1},
			{ParticipantID: f.b.String(), Count: 3},
		}},
	})
	require.NoError(t, err)
	for _, r := range e.Participants {
		assert.True(t, r.Weight.IsPositive(), "weight stored for %s", r.UserID)
	}

	amount := dec("80")
	updated, err := f.svc.UpdateExpense(ctx, f.a, e.ID, ExpensePatch{Amount: &amount})
	require.NoError(t, err)

	owed := map[uuid.UUID]string{}
	for _, r := range updated.Participants {
		owed[r.UserID] = r.AmountOwed.StringFixed(2)
	}
	assert.Equal(t, map[uuid.UUID]string{f.a: "20.00", f.b: "60.00"}, owed)
}
