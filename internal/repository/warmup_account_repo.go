package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

type WarmupAccountRepository struct {
	db *pgxpool.Pool
}

func NewWarmupAccountRepository(db *pgxpool.Pool) *WarmupAccountRepository {
	return &WarmupAccountRepository{db: db}
}

// ListActive returns accounts that are active and connected, the only ones
// eligible for scheduling.
func (r *WarmupAccountRepository) ListActive(ctx context.Context) ([]*model.WarmupAccount, error) {
	query := `
        SELECT email, status, warmup_day, start_volume, daily_increase, max_volume,
               organizational, COALESCE(tenant_id, ''), provider, connected, created_at
        FROM warmup_accounts
        WHERE status = 'active' AND connected = TRUE
        ORDER BY email
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*model.WarmupAccount
	for rows.Next() {
		var a model.WarmupAccount
		if err := rows.Scan(
			&a.Email, &a.Status, &a.WarmupDay, &a.StartVolume, &a.DailyIncrease,
			&a.MaxVolume, &a.Organizational, &a.TenantID, &a.Provider, &a.Connected,
			&a.CreatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// FindByEmail returns one warmup account by email.
func (r *WarmupAccountRepository) FindByEmail(ctx context.Context, email string) (*model.WarmupAccount, error) {
	query := `
        SELECT email, status, warmup_day, start_volume, daily_increase, max_volume,
               organizational, COALESCE(tenant_id, ''), provider, connected, created_at
        FROM warmup_accounts
        WHERE email = $1
    `
	var a model.WarmupAccount
	err := r.db.QueryRow(ctx, query, email).Scan(
		&a.Email, &a.Status, &a.WarmupDay, &a.StartVolume, &a.DailyIncrease,
		&a.MaxVolume, &a.Organizational, &a.TenantID, &a.Provider, &a.Connected,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// UpdateStatus flips the warmup status (active|paused).
func (r *WarmupAccountRepository) UpdateStatus(ctx context.Context, email, status string) error {
	query := `UPDATE warmup_accounts SET status = $2 WHERE email = $1`
	_, err := r.db.Exec(ctx, query, email, status)
	return err
}

// IncrementWarmupDay advances the ramp-up counter by one.
func (r *WarmupAccountRepository) IncrementWarmupDay(ctx context.Context, email string) error {
	query := `UPDATE warmup_accounts SET warmup_day = warmup_day + 1 WHERE email = $1`
	_, err := r.db.Exec(ctx, query, email)
	return err
}

// SetWarmupDay pins the ramp-up counter, used by operator resets.
func (r *WarmupAccountRepository) SetWarmupDay(ctx context.Context, email string, day int) error {
	query := `UPDATE warmup_accounts SET warmup_day = $2 WHERE email = $1`
	_, err := r.db.Exec(ctx, query, email, day)
	return err
}
