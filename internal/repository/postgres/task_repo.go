package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// TaskRepository - PostgreSQL реализация очереди задач
type TaskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository создает новый репозиторий задач
func NewTaskRepository(db *sqlx.DB) repoInterface.TaskRepository {
	return &TaskRepository{db: db}
}

const taskColumns = `id, venue_id, integration_type, operation, entity_type, entity_id, payload,
	idempotency_key, priority, status, attempts, max_attempts, next_retry_at, last_error,
	enqueued_at, started_at, completed_at, expires_at, correlation_id`

// Insert вставляет задачу; повторная вставка с тем же idempotency_key
// не создает дубликат и возвращает существующую задачу
func (r *TaskRepository) Insert(ctx context.Context, task *domain.SyncTask) (*domain.SyncTask, bool, error) {
	query := `
        INSERT INTO sync_tasks (id, venue_id, integration_type, operation, entity_type, entity_id, payload,
            idempotency_key, priority, status, attempts, max_attempts, enqueued_at, expires_at, correlation_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
        RETURNING ` + taskColumns

	var inserted domain.SyncTask
	err := r.db.QueryRowxContext(ctx, query,
		task.ID,
		task.VenueID,
		task.IntegrationType,
		task.Operation,
		task.EntityType,
		task.EntityID,
		task.Payload,
		task.IdempotencyKey,
		task.Priority,
		task.Status,
		task.Attempts,
		task.MaxAttempts,
		task.EnqueuedAt,
		task.ExpiresAt,
		task.CorrelationID,
	).StructScan(&inserted)

	if err == nil {
		return &inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert task: %w", err)
	}

	// Конфликт по ключу идемпотентности - возвращаем существующую задачу
	if task.IdempotencyKey == nil {
		return nil, false, fmt.Errorf("failed to insert task: %w", err)
	}

	existing, err := r.FindByIdempotencyKey(ctx, *task.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindByIdempotencyKey находит задачу по ключу идемпотентности
func (r *TaskRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.SyncTask, error) {
	var task domain.SyncTask
	query := `SELECT ` + taskColumns + ` FROM sync_tasks WHERE idempotency_key = $1`

	err := r.db.QueryRowxContext(ctx, query, key).StructScan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// FindByID находит задачу по ID
func (r *TaskRepository) FindByID(ctx context.Context, id string) (*domain.SyncTask, error) {
	var task domain.SyncTask
	query := `SELECT ` + taskColumns + ` FROM sync_tasks WHERE id = $1`

	err := r.db.QueryRowxContext(ctx, query, id).StructScan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListByVenue возвращает задачи площадки постранично
func (r *TaskRepository) ListByVenue(ctx context.Context, venueID string, limit, offset int) ([]*domain.SyncTask, int, error) {
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM sync_tasks WHERE venue_id = $1`, venueID)
	if err != nil {
		return nil, 0, err
	}

	query := `
        SELECT ` + taskColumns + `
        FROM sync_tasks
        WHERE venue_id = $1
        ORDER BY enqueued_at DESC
        LIMIT $2 OFFSET $3
    `

	rows, err := r.db.QueryxContext(ctx, query, venueID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []*domain.SyncTask
	for rows.Next() {
		var task domain.SyncTask
		if err := rows.StructScan(&task); err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, &task)
	}

	return tasks, total, rows.Err()
}

// ClaimNext атомарно забирает одну подходящую задачу в processing
// Два воркера не могут забрать одну задачу: выбор и перевод статуса - один
// UPDATE c FOR UPDATE SKIP LOCKED
func (r *TaskRepository) ClaimNext(ctx context.Context, now time.Time) (*domain.SyncTask, error) {
	query := `
        UPDATE sync_tasks SET status = 'processing', started_at = $1
        WHERE id = (
            SELECT st.id
            FROM sync_tasks st
            JOIN integration_configs ic
              ON ic.venue_id = st.venue_id AND ic.integration_type = st.integration_type
            WHERE st.status = 'pending'
              AND (st.next_retry_at IS NULL OR st.next_retry_at <= $1)
              AND st.expires_at > $1
              AND ic.status = 'connected'
              AND ic.health_status != 'unhealthy'
            ORDER BY st.priority ASC, st.enqueued_at ASC, st.seq ASC
            LIMIT 1
            FOR UPDATE OF st SKIP LOCKED
        )
        RETURNING ` + taskColumns

	var task domain.SyncTask
	err := r.db.QueryRowxContext(ctx, query, now).StructScan(&task)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim task: %w", err)
	}
	return &task, nil
}

// MarkCompleted переводит задачу из processing в completed
func (r *TaskRepository) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	query := `
        UPDATE sync_tasks SET status = 'completed', completed_at = $2, last_error = ''
        WHERE id = $1 AND status = 'processing'
    `
	return r.transition(ctx, query, id, at)
}

// MarkFailed переводит задачу из processing в failed
func (r *TaskRepository) MarkFailed(ctx context.Context, id string, lastError string) error {
	query := `
        UPDATE sync_tasks SET status = 'failed', completed_at = NOW(), last_error = $2
        WHERE id = $1 AND status = 'processing'
    `
	return r.transition(ctx, query, id, lastError)
}

// ScheduleRetry возвращает failed задачу в pending с отложенным запуском
func (r *TaskRepository) ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, incrementAttempts bool) error {
	query := `
        UPDATE sync_tasks
        SET status = 'pending',
            next_retry_at = $2,
            attempts = attempts + CASE WHEN $3 THEN 1 ELSE 0 END,
            started_at = NULL,
            completed_at = NULL
        WHERE id = $1 AND status = 'failed'
    `
	return r.transition(ctx, query, id, nextRetryAt, incrementAttempts)
}

// MarkDeadLetter переводит задачу в терминальный dead_letter
func (r *TaskRepository) MarkDeadLetter(ctx context.Context, id string, lastError string) error {
	query := `
        UPDATE sync_tasks
        SET status = 'dead_letter', attempts = attempts + 1, completed_at = NOW(), last_error = $2
        WHERE id = $1 AND status IN ('processing', 'failed')
    `
	return r.transition(ctx, query, id, lastError)
}

// ReclaimStale возвращает зависшие processing задачи обратно в pending
// Единственный разрешенный обратный переход; условие по started_at делает
// повторный вызов в том же окне холостым. Задача, исчерпавшая попытки
// на реклейме, уходит в dead_letter и больше не выдается воркерам
func (r *TaskRepository) ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
        UPDATE sync_tasks
        SET status = CASE WHEN attempts + 1 >= max_attempts THEN 'dead_letter' ELSE 'pending' END,
            attempts = attempts + 1,
            started_at = NULL,
            next_retry_at = NULL,
            completed_at = CASE WHEN attempts + 1 >= max_attempts THEN NOW() ELSE completed_at END,
            last_error = CASE WHEN attempts + 1 >= max_attempts THEN 'stale claim, attempts exhausted' ELSE last_error END
        WHERE status = 'processing' AND started_at IS NOT NULL AND started_at < $1
    `
	result, err := r.db.ExecContext(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale tasks: %w", err)
	}
	return result.RowsAffected()
}

// ExpireOverdue списывает просроченные задачи, ожидающие запуска
func (r *TaskRepository) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
        UPDATE sync_tasks
        SET status = 'failed', completed_at = $1, last_error = 'expired', next_retry_at = NULL
        WHERE status = 'pending' AND expires_at <= $1
    `
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire tasks: %w", err)
	}
	return result.RowsAffected()
}

// DeadLetterTasks возвращает задачи из dead-letter для переинжекта
func (r *TaskRepository) DeadLetterTasks(ctx context.Context, limit int) ([]*domain.SyncTask, error) {
	query := `
        SELECT ` + taskColumns + `
        FROM sync_tasks
        WHERE status = 'dead_letter' AND last_error NOT LIKE 'reinjected as %'
        ORDER BY completed_at ASC
        LIMIT $1
    `

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.SyncTask
	for rows.Next() {
		var task domain.SyncTask
		if err := rows.StructScan(&task); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}

	return tasks, rows.Err()
}

// MarkReinjected помечает dead-letter задачу как замененную новой
// Статус остается терминальным, свип больше ее не трогает
func (r *TaskRepository) MarkReinjected(ctx context.Context, id, replacementID string) error {
	query := `
        UPDATE sync_tasks SET last_error = 'reinjected as ' || $2
        WHERE id = $1 AND status = 'dead_letter'
    `
	return r.transition(ctx, query, id, replacementID)
}

// QueueStats возвращает глубину очереди и возраст самой старой pending задачи
func (r *TaskRepository) QueueStats(ctx context.Context, venueID string, t domain.IntegrationType) (int, *time.Time, error) {
	var stats struct {
		Depth  int          `db:"depth"`
		Oldest sql.NullTime `db:"oldest"`
	}

	query := `
        SELECT COUNT(*) AS depth, MIN(enqueued_at) AS oldest
        FROM sync_tasks
        WHERE venue_id = $1 AND integration_type = $2 AND status = 'pending'
    `

	if err := r.db.GetContext(ctx, &stats, query, venueID, t); err != nil {
		return 0, nil, err
	}

	if !stats.Oldest.Valid {
		return stats.Depth, nil, nil
	}
	return stats.Depth, &stats.Oldest.Time, nil
}

// MetricsWindow агрегирует историю задач пары (venue, integration_type) с момента since
func (r *TaskRepository) MetricsWindow(ctx context.Context, venueID string, t domain.IntegrationType, since time.Time) (*domain.TaskWindowMetrics, error) {
	var metrics domain.TaskWindowMetrics

	query := `
        SELECT
            COUNT(*) FILTER (WHERE status IN ('completed', 'failed', 'dead_letter')) AS attempted,
            COUNT(*) FILTER (WHERE status = 'completed') AS succeeded,
            COUNT(*) FILTER (WHERE status IN ('failed', 'dead_letter')) AS failed,
            COALESCE(SUM(attempts + 1) FILTER (WHERE status IN ('completed', 'failed', 'dead_letter')), 0) AS api_calls,
            COALESCE(AVG(EXTRACT(EPOCH FROM (completed_at - started_at)) * 1000)
                FILTER (WHERE status = 'completed' AND started_at IS NOT NULL), 0) AS avg_duration_ms
        FROM sync_tasks
        WHERE venue_id = $1 AND integration_type = $2 AND completed_at >= $3
    `

	if err := r.db.GetContext(ctx, &metrics, query, venueID, t, since); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// transition выполняет переход статуса и требует, чтобы он затронул строку
func (r *TaskRepository) transition(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task transition rejected: %w", domain.ErrNotFound)
	}

	return nil
}
