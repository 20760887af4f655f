package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"splitledger/ledger"
	"splitledger/logger"
	"splitledger/models"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	aggregateKeyPrefix = "ledger:aggregate:"
	versionKeyPrefix   = "ledger:aggregate-version:"
)

// AggregateKey names the cached aggregate of a group at a given version.
func AggregateKey(groupID uuid.UUID, version int64) string {
	return aggregateKeyPrefix + groupID.String() + ":" + strconv.FormatInt(version, 10)
}

// VersionKey holds a group's aggregate version. Every committed write bumps it.
func VersionKey(groupID uuid.UUID) string {
	return versionKeyPrefix + groupID.String()
}

// CachedLedgerStore caches group aggregates in redis. Settlement plans are
// never cached; they are recomputed from the aggregate on every read.
//
// Entries are keyed by the group's version, read before the inner store is
// queried. A write bumps the version after it commits, so a read that loaded
// the old aggregate can only fill a key no later read will look up. Redis
// errors fall back to the inner store.
type CachedLedgerStore struct {
	LedgerStore
	rdb *redis.Client
	ttl time.Duration
	log *zap.SugaredLogger
}

// NewCachedLedgerStore returns inner unchanged when rdb is nil.
func NewCachedLedgerStore(inner LedgerStore, rdb *redis.Client, ttl time.Duration) LedgerStore {
	if rdb == nil {
		return inner
	}
	return &CachedLedgerStore{
		LedgerStore: inner,
		rdb:         rdb,
		ttl:         ttl,
		log:         logger.With("component", "aggregate_cache"),
	}
}

func (s *CachedLedgerStore) AggregateByParticipant(ctx context.Context, groupID uuid.UUID) ([]ledger.Aggregate, error) {
	version, err := s.rdb.Get(ctx, VersionKey(groupID)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		version = 0
	case err != nil:
		s.log.Warnw("aggregate version read failed", "group_id", groupID, "error", err)
		return s.LedgerStore.AggregateByParticipant(ctx, groupID)
	}
	key := AggregateKey(groupID, version)

	raw, err := s.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var aggs []ledger.Aggregate
		if jsonErr := json.Unmarshal(raw, &aggs); jsonErr == nil {
			return aggs, nil
		}
		s.log.Warnw("dropping undecodable aggregate entry", "key", key)
	case !errors.Is(err, redis.Nil):
		s.log.Warnw("aggregate cache read failed", "key", key, "error", err)
	}

	aggs, err := s.LedgerStore.AggregateByParticipant(ctx, groupID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(aggs); err == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.log.Warnw("aggregate cache write failed", "key", key, "error", err)
		}
	}
	return aggs, nil
}

func (s *CachedLedgerStore) AppendExpense(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error {
	if err := s.LedgerStore.AppendExpense(ctx, expense, rows); err != nil {
		return err
	}
	s.invalidate(ctx, expense.GroupID)
	return nil
}

func (s *CachedLedgerStore) ReplaceAllocations(ctx context.Context, expense *models.Expense, rows []models.ExpenseParticipant) error {
	if err := s.LedgerStore.ReplaceAllocations(ctx, expense, rows); err != nil {
		return err
	}
	s.invalidate(ctx, expense.GroupID)
	return nil
}

func (s *CachedLedgerStore) DeleteExpense(ctx context.Context, groupID, expenseID uuid.UUID) error {
	if err := s.LedgerStore.DeleteExpense(ctx, groupID, expenseID); err != nil {
		return err
	}
	s.invalidate(ctx, groupID)
	return nil
}

func (s *CachedLedgerStore) RecordSettlement(ctx context.Context, settlement *models.Settlement) error {
	if err := s.LedgerStore.RecordSettlement(ctx, settlement); err != nil {
		return err
	}
	s.invalidate(ctx, settlement.GroupID)
	return nil
}

func (s *CachedLedgerStore) UpdateSettlementStatus(ctx context.Context, groupID, settlementID uuid.UUID, status string) error {
	if err := s.LedgerStore.UpdateSettlementStatus(ctx, groupID, settlementID, status); err != nil {
		return err
	}
	s.invalidate(ctx, groupID)
	return nil
}

func (s *CachedLedgerStore) invalidate(ctx context.Context, groupID uuid.UUID) {
	if err := s.rdb.Incr(ctx, VersionKey(groupID)).Err(); err != nil {
		s.log.Warnw("aggregate cache invalidation failed", "group_id", groupID, "error", err)
	}
}
