package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailwarm/internal/model"
)

var ErrAccountNotFound = errors.New("account not found in any source")

// AccountSource is a uniform lookup capability over one account provider
// (google, microsoft, smtp). Sources are probed in a fixed order instead
// of branching on provider at each call site.
type AccountSource interface {
	Name() string
	FindByEmail(ctx context.Context, email string) (*model.WarmupAccount, error)
	Count(ctx context.Context) (int, error)
}

// ProviderSource scopes the warmup_accounts table to a single provider.
type ProviderSource struct {
	db       *pgxpool.Pool
	provider string
}

func NewProviderSource(db *pgxpool.Pool, provider string) *ProviderSource {
	return &ProviderSource{db: db, provider: provider}
}

func (s *ProviderSource) Name() string { return s.provider }

func (s *ProviderSource) FindByEmail(ctx context.Context, email string) (*model.WarmupAccount, error) {
	query := `
        SELECT email, status, warmup_day, start_volume, daily_increase, max_volume,
               organizational, COALESCE(tenant_id, ''), provider, connected, created_at
        FROM warmup_accounts
        WHERE email = $1 AND provider = $2
    `
	var a model.WarmupAccount
	err := s.db.QueryRow(ctx, query, email, s.provider).Scan(
		&a.Email, &a.Status, &a.WarmupDay, &a.StartVolume, &a.DailyIncrease,
		&a.MaxVolume, &a.Organizational, &a.TenantID, &a.Provider, &a.Connected,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *ProviderSource) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM warmup_accounts WHERE provider = $1`, s.provider,
	).Scan(&n)
	return n, err
}

// DefaultSources is the probe order for account lookups.
func DefaultSources(db *pgxpool.Pool) []AccountSource {
	return []AccountSource{
		NewProviderSource(db, "google"),
		NewProviderSource(db, "microsoft"),
		NewProviderSource(db, "smtp"),
	}
}

// FindInSources probes each source in order and returns the first match.
func FindInSources(ctx context.Context, sources []AccountSource, email string) (*model.WarmupAccount, error) {
	for _, src := range sources {
		a, err := src.FindByEmail(ctx, email)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
	}
	return nil, ErrAccountNotFound
}
