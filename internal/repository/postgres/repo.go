package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo — единая точка доступа ко всем таблицам коллабораторов.
// Методы по доменам разнесены по файлам: activation_repo.go, judicial_repo.go,
// audit_repo.go, subject_repo.go, notification_repo.go.
type Repo struct {
	pool *pgxpool.Pool
}

// NewRepo создает пул соединений. Ping проверяется в main при старте.
func NewRepo(ctx context.Context, connString string, maxConns, minConns int32) (*Repo, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: invalid connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: pool init failed: %w", err)
	}
	return &Repo{pool: pool}, nil
}

// Ping проверяет доступность базы при старте
func (r *Repo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repo) Close() {
	r.pool.Close()
}
