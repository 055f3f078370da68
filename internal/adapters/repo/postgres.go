package repo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tg-multipost/internal/domain"
	"tg-multipost/internal/infra/metrics"
)

// Postgres ведёт журнал попыток публикации на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ domain.PublishLog = (*Postgres)(nil)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		return context.WithTimeout(context.Background(), 5*time.Second)
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// Record сохраняет запись журнала публикаций.
func (p *Postgres) Record(ctx context.Context, rec domain.PublishRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO publish_log (phone, targets, title, scheduled, succeeded, failed_chats, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`, rec.Phone, rec.Targets, rec.Title, rec.Scheduled, rec.Succeeded, rec.FailedChats, rec.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "publish_log_insert", "publish_log", start, err)
	return err
}
