package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// HealthRepository - PostgreSQL хранилище сводок здоровья
type HealthRepository struct {
	db *sqlx.DB
}

// NewHealthRepository создает новый репозиторий сводок
func NewHealthRepository(db *sqlx.DB) repoInterface.HealthRepository {
	return &HealthRepository{db: db}
}

// Upsert перезаписывает сводку пары (venue, тип) целиком
func (r *HealthRepository) Upsert(ctx context.Context, s *domain.HealthSnapshot) error {
	query := `
        INSERT INTO health_snapshots
            (venue_id, integration_type, state, success_rate, avg_duration_ms,
             attempted_24h, succeeded_24h, failed_24h, api_calls_24h,
             queue_depth, oldest_pending_sec, computed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (venue_id, integration_type) DO UPDATE
        SET state = EXCLUDED.state,
            success_rate = EXCLUDED.success_rate,
            avg_duration_ms = EXCLUDED.avg_duration_ms,
            attempted_24h = EXCLUDED.attempted_24h,
            succeeded_24h = EXCLUDED.succeeded_24h,
            failed_24h = EXCLUDED.failed_24h,
            api_calls_24h = EXCLUDED.api_calls_24h,
            queue_depth = EXCLUDED.queue_depth,
            oldest_pending_sec = EXCLUDED.oldest_pending_sec,
            computed_at = EXCLUDED.computed_at
    `

	_, err := r.db.ExecContext(ctx, query,
		s.VenueID,
		s.IntegrationType,
		s.State,
		s.SuccessRate,
		s.AvgDurationMS,
		s.Attempted24h,
		s.Succeeded24h,
		s.Failed24h,
		s.APICalls24h,
		s.QueueDepth,
		s.OldestPendingSec,
		s.ComputedAt,
	)
	return err
}

// Find находит сводку пары (venue, тип)
func (r *HealthRepository) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.HealthSnapshot, error) {
	var snapshot domain.HealthSnapshot

	query := `
        SELECT venue_id, integration_type, state, success_rate, avg_duration_ms,
               attempted_24h, succeeded_24h, failed_24h, api_calls_24h,
               queue_depth, oldest_pending_sec, computed_at
        FROM health_snapshots
        WHERE venue_id = $1 AND integration_type = $2
    `

	err := r.db.GetContext(ctx, &snapshot, query, venueID, t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}
