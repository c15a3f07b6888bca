package migration

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"promptforge/internal/accounts"
	accountsdomain "promptforge/internal/domain/accounts"
	ledgerdomain "promptforge/internal/domain/ledger"
	"promptforge/internal/domain/plans"
	"promptforge/internal/infra/metrics"

	"go.uber.org/zap"
)

type Crediter interface {
	Credit(ctx context.Context, accountID uint, amount int64, reason ledgerdomain.Reason, correlationID string) (int64, error)
}

type Store interface {
	PendingMigration(ctx context.Context) ([]accountsdomain.Account, error)
	MarkMigrated(ctx context.Context, id uint, at time.Time) error
	MigrationSummary(ctx context.Context) (accounts.MigrationSummary, error)
}

// Failure is one account the run could not convert.
type Failure struct {
	AccountID uint   `json:"account_id"`
	Error     string `json:"error"`
}

type Result struct {
	Scanned  int       `json:"scanned"`
	Migrated int       `json:"migrated"`
	Failed   []Failure `json:"failed"`
}

// Job converts legacy plan accounts into ledger balances. Each account is
// credited under "migration:<id>" and tagged only after the credit is durable,
// so a repeated run neither double credits nor skips a half-done account.
type Job struct {
	mu      sync.Mutex
	ledger  Crediter
	store   Store
	catalog plans.Catalog
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewJob(ledger Crediter, store Store, catalog plans.Catalog, log *zap.Logger, m *metrics.Metrics) *Job {
	if log == nil {
		log = zap.NewNop()
	}
	return &Job{
		ledger:  ledger,
		store:   store,
		catalog: catalog,
		log:     log.Named("migration"),
		metrics: m,
		now:     time.Now,
	}
}

func correlationID(accountID uint) string {
	return "migration:" + strconv.FormatUint(uint64(accountID), 10)
}

// Run migrates every pending account. Runs are serialized. The returned error
// is set only when the scan itself fails or ctx ends; per-account problems go
// into Result.Failed.
func (j *Job) Run(ctx context.Context) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	res := Result{Failed: []Failure{}}
	pending, err := j.store.PendingMigration(ctx)
	if err != nil {
		return res, err
	}
	res.Scanned = len(pending)

	for _, acct := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := j.migrateOne(ctx, acct); err != nil {
			j.metrics.RecordMigration("failed")
			j.log.Error("account migration failed", zap.Uint("account_id", acct.ID), zap.Error(err))
			res.Failed = append(res.Failed, Failure{AccountID: acct.ID, Error: err.Error()})
			continue
		}
		j.metrics.RecordMigration("migrated")
		res.Migrated++
	}

	j.log.Info("migration run finished",
		zap.Int("scanned", res.Scanned), zap.Int("migrated", res.Migrated), zap.Int("failed", len(res.Failed)))
	return res, nil
}

func (j *Job) migrateOne(ctx context.Context, acct accountsdomain.Account) error {
	grant, ok := j.catalog.LegacyGrant(acct.LegacyPlan)
	if !ok {
		return fmt.Errorf("unknown legacy plan %q", acct.LegacyPlan)
	}
	if grant > 0 {
		_, err := j.ledger.Credit(ctx, acct.ID, grant, ledgerdomain.ReasonMigration, correlationID(acct.ID))
		if err != nil && !errors.Is(err, ledgerdomain.ErrAlreadyApplied) {
			return fmt.Errorf("credit legacy grant: %w", err)
		}
	}
	return j.store.MarkMigrated(ctx, acct.ID, j.now())
}

func (j *Job) Status(ctx context.Context) (accounts.MigrationSummary, error) {
	return j.store.MigrationSummary(ctx)
}
