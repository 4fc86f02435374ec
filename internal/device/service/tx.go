package service

import (
	"context"

	"github.com/jmoiron/sqlx"

	"fleet-control-plane/internal/db"
	devicerepo "fleet-control-plane/internal/device/repository"
	historyrepo "fleet-control-plane/internal/history/repository"
	loanrepo "fleet-control-plane/internal/loan/repository"
)

// TxRepos are repositories bound to one transaction.
type TxRepos struct {
	Devices devicerepo.Repository
	History historyrepo.Repository
	Loans   loanrepo.Repository
}

// Transactor runs fn with repositories that share a transaction. fn's error rolls it back.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(TxRepos) error) error
}

// PostgresTransactor implements Transactor over a sqlx pool.
type PostgresTransactor struct {
	db      *sqlx.DB
	devices *devicerepo.PostgresRepository
	history *historyrepo.PostgresRepository
	loans   *loanrepo.PostgresRepository
}

// NewPostgresTransactor returns a Transactor for pool.
func NewPostgresTransactor(pool *sqlx.DB) *PostgresTransactor {
	return &PostgresTransactor{
		db:      pool,
		devices: devicerepo.NewPostgresRepository(pool),
		history: historyrepo.NewPostgresRepository(pool),
		loans:   loanrepo.NewPostgresRepository(pool),
	}
}

func (t *PostgresTransactor) WithinTx(ctx context.Context, fn func(TxRepos) error) error {
	return db.InTx(ctx, t.db, func(tx *sqlx.Tx) error {
		return fn(TxRepos{
			Devices: t.devices.WithTx(tx),
			History: t.history.WithTx(tx),
			Loans:   t.loans.WithTx(tx),
		})
	})
}
