// Package store persists expenses, allocation rows and settlements, and
// produces the per-participant aggregates the settlement reducer consumes.
package store

import (
	"context"
	"errors"
	"fmt"

	"splitledger/ledger"
	"splitledger/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("store: record not found")

// LedgerStore is the persistence boundary of the ledger. Allocation rows are
// written all-or-nothing together with their expense.
type LedgerStore interface {
	AppendExpense(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error
	ReplaceAllocations(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error
	DeleteExpense(ctx context.Context, groupID, expenseID uuid.UUID) error
	GetExpense(ctx context.Context, expenseID uuid.UUID) (*models.Expense, error)

	RecordSettlement(ctx context.Context, s *models.Settlement) error
	UpdateSettlementStatus(ctx context.Context, groupID, settlementID uuid.UUID, status string) error
	GetSettlement(ctx context.Context, settlementID uuid.UUID) (*models.Settlement, error)

	AggregateByParticipant(ctx context.Context, groupID uuid.UUID) ([]ledger.Aggregate, error)
}

type GormLedgerStore struct {
	db *gorm.DB
}

func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

func (s *GormLedgerStore) AppendExpense(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(expense).Error; err != nil {
			return fmt.Errorf("insert expense: %w", err)
		}
		return insertRows(tx, expense.ID, rows)
	})
	if err != nil {
		return err
	}
	expense.Participants = rows
	return nil
}

func (s *GormLedgerStore) ReplaceAllocations(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Omit(clause.Associations).Save(expense)
		if res.Error != nil {
			return fmt.Errorf("update expense: %w", res.Error)
		}
		if err := tx.Where("expense_id = ?", expense.ID).Delete(&models.ExpenseParticipant{}).Error; err != nil {
			return fmt.Errorf("delete allocation rows: %w", err)
		}
		return insertRows(tx, expense.ID, rows)
	})
	if err != nil {
		return err
	}
	expense.Participants = rows
	return nil
}

func insertRows(tx *gorm.DB, expenseID uuid.UUID, rows []models.ExpenseParticipant) error {
	for i := range rows {
		rows[i].ExpenseID = expenseID
	}
	if len(rows) == 0 {
		return nil
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert allocation rows: %w", err)
	}
	return nil
}

func (s *GormLedgerStore) DeleteExpense(ctx context.Context, groupID, expenseID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("expense_id = ?", expenseID).Delete(&models.ExpenseParticipant{}).Error; err != nil {
			return fmt.Errorf("delete allocation rows: %w", err)
		}
		res := tx.Where("id = ? AND group_id = ?", expenseID, groupID).Delete(&models.Expense{})
		if res.Error != nil {
			return fmt.Errorf("delete expense: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *GormLedgerStore) GetExpense(ctx context.Context, expenseID uuid.UUID) (*models.Expense, error) {
	var expense models.Expense
	err := s.db.WithContext(ctx).
		Preload("Participants", func(db *gorm.DB) *gorm.DB { return db.Order("user_id") }).
		First(&expense, "id = ?", expenseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load expense: %w", err)
	}
	return &expense, nil
}

func (s *GormLedgerStore) RecordSettlement(ctx context.Context, settlement *models.Settlement) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(settlement).Error; err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	return nil
}

func (s *GormLedgerStore) UpdateSettlementStatus(ctx context.Context, groupID, settlementID uuid.UUID, status string) error {
	res := s.db.WithContext(ctx).Model(&models.Settlement{}).
		Where("id = ? AND group_id = ?", settlementID, groupID).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("update settlement status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormLedgerStore) GetSettlement(ctx context.Context, settlementID uuid.UUID) (*models.Settlement, error) {
	var settlement models.Settlement
	err := s.db.WithContext(ctx).First(&settlement, "id = ?", settlementID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load settlement: %w", err)
	}
	return &settlement, nil
}

// Completed settlements count as money paid by the payer and money owed by
// the payee, which moves both nets toward zero.
const aggregateSQL = `
SELECT user_id, SUM(paid) AS total_paid, SUM(owed) AS total_owed
FROM (
	SELECT ep.user_id, ep.amount_paid AS paid, ep.amount_owed AS owed
	FROM expense_participants ep
	JOIN expenses e ON e.id = ep.expense_id
	WHERE e.group_id = @group
	UNION ALL
	SELECT paid_by, amount, 0::numeric FROM settlements WHERE group_id = @group AND status = @status
	UNION ALL
	SELECT paid_to, 0::numeric, amount FROM settlements WHERE group_id = @group AND status = @status
) t
GROUP BY user_id
ORDER BY user_id`

type aggregateRow struct {
	UserID    uuid.UUID
	TotalPaid decimal.Decimal
	TotalOwed decimal.Decimal
}

func (s *GormLedgerStore) AggregateByParticipant(ctx context.Context, groupID uuid.UUID) ([]ledger.Aggregate, error) {
	var rows []aggregateRow
	err := s.db.WithContext(ctx).Raw(aggregateSQL, map[string]interface{}{
		"group":  groupID,
		"status": models.SettlementCompleted,
	}).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate group %s: %w", groupID, err)
	}

	aggs := make([]ledger.Aggregate, len(rows))
	for i, r := range rows {
		aggs[i] = ledger.Aggregate{
			ParticipantID: r.UserID.String(),
			TotalPaid:     r.TotalPaid,
			TotalOwed:     r.TotalOwed,
		}
	}
	return aggs, nil
}
