package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type PoolAccountRepository struct {
	db *pgxpool.Pool
}

func NewPoolAccountRepository(db *pgxpool.Pool) *PoolAccountRepository {
	return &PoolAccountRepository{db: db}
}

// ListActive returns pool accounts available as counterparts.
func (r *PoolAccountRepository) ListActive(ctx context.Context) ([]*model.PoolAccount, error) {
	query := `
        SELECT email, active, COALESCE(daily_cap, 0)
        FROM pool_accounts
        WHERE active = TRUE
        ORDER BY email
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []*model.PoolAccount
	for rows.Next() {
		var p model.PoolAccount
		if err := rows.Scan(&p.Email, &p.Active, &p.DailyCap); err != nil {
			return nil, err
		}
		pools = append(pools, &p)
	}
	return pools, rows.Err()
}

// FindByEmail returns one pool account by email.
func (r *PoolAccountRepository) FindByEmail(ctx context.Context, email string) (*model.PoolAccount, error) {
	query := `
        SELECT email, active, COALESCE(daily_cap, 0)
        FROM pool_accounts
        WHERE email = $1
    `
	var p model.PoolAccount
	err := r.db.QueryRow(ctx, query, email).Scan(&p.Email, &p.Active, &p.DailyCap)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Count returns the number of active pool accounts.
func (r *PoolAccountRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM pool_accounts WHERE active = TRUE`).Scan(&n)
	return n, err
}
