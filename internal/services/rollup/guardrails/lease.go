package guardrails

import (
	"context"
	"errors"

	"ghafacts/internal/modkit/repokit"
)

// ErrLeaseHeld signals another run owns the (mode, year) slot already
var ErrLeaseHeld = errors.New("rollup: run lease already held")

// LeaseFunc runs do while holding the lease for key
type LeaseFunc func(ctx context.Context, key, owner string, do func(context.Context) error) error

// MakeTableLease returns a LeaseFunc backed by the rollup_leases table.
// Claiming inserts a row; release deletes it once do returns, whatever the outcome.
// A crashed run leaves its row behind and must be cleared by hand.
func MakeTableLease(db repokit.TxRunner, t Timeouts) LeaseFunc {
	return func(ctx context.Context, key, owner string, do func(context.Context) error) error {
		var claimed bool
		dbCtx, cancel := ForDB(ctx, t)
		err := db.Tx(dbCtx, func(q repokit.Queryer) error {
			rows, err := q.Query(dbCtx, `
				INSERT INTO rollup_leases (lease_key, owner, claimed_at)
				VALUES ($1, $2, now())
				ON CONFLICT (lease_key) DO NOTHING
				RETURNING true
			`, key, owner)
			if err != nil {
				return err
			}
			defer rows.Close()
			claimed = rows.Next()
			return rows.Err()
		})
		cancel()
		if err != nil {
			return err
		}
		if !claimed {
			return ErrLeaseHeld
		}

		defer func() {
			relCtx, relCancel := ForDB(ctx, t)
			defer relCancel()
			_, _ = db.Exec(relCtx, `DELETE FROM rollup_leases WHERE lease_key = $1 AND owner = $2`, key, owner)
		}()
		return do(ctx)
	}
}

// NoLease runs do directly
func NoLease(ctx context.Context, _, _ string, do func(context.Context) error) error {
	return do(ctx)
}
