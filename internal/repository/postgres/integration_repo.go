package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// IntegrationRepository - PostgreSQL реализация
type IntegrationRepository struct {
	db *sqlx.DB
}

// NewIntegrationRepository создает новый репозиторий
func NewIntegrationRepository(db *sqlx.DB) repoInterface.IntegrationRepository {
	return &IntegrationRepository{db: db}
}

// Upsert создает конфигурацию или обновляет ее настройки
// Пара (venue_id, integration_type) уникальна, статус при обновлении не трогаем
func (r *IntegrationRepository) Upsert(ctx context.Context, cfg *domain.IntegrationConfig) error {
	syncConfigJSON, err := json.Marshal(cfg.SyncConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal sync config: %w", err)
	}

	query := `
        INSERT INTO integration_configs
            (id, venue_id, integration_type, status, health_status, sync_config, field_mapping_ref, created_at, updated_at)
        VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, NOW(), NOW())
        ON CONFLICT (venue_id, integration_type) DO UPDATE
        SET sync_config = EXCLUDED.sync_config,
            field_mapping_ref = EXCLUDED.field_mapping_ref,
            updated_at = NOW()
        RETURNING id, status, health_status, created_at, updated_at
    `

	return r.db.QueryRowContext(ctx, query,
		cfg.VenueID,
		cfg.IntegrationType,
		cfg.Status,
		cfg.Health,
		syncConfigJSON,
		cfg.FieldMappingRef,
	).Scan(&cfg.ID, &cfg.Status, &cfg.Health, &cfg.CreatedAt, &cfg.UpdatedAt)
}

func (r *IntegrationRepository) scanConfig(row sqlx.ColScanner) (*domain.IntegrationConfig, error) {
	var cfg domain.IntegrationConfig
	var syncConfigJSON []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.VenueID,
		&cfg.IntegrationType,
		&cfg.Status,
		&cfg.Health,
		&cfg.LastSyncAt,
		&cfg.LastFailureAt,
		&cfg.FailureCount,
		&syncConfigJSON,
		&cfg.FieldMappingRef,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(syncConfigJSON) > 0 {
		if err := json.Unmarshal(syncConfigJSON, &cfg.SyncConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync config: %w", err)
		}
	}

	return &cfg, nil
}

const configColumns = `id, venue_id, integration_type, status, health_status, last_sync_at,
	last_failure_at, failure_count, sync_config, field_mapping_ref, created_at, updated_at`

// Find находит конфигурацию по паре (venue, тип)
func (r *IntegrationRepository) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.IntegrationConfig, error) {
	query := `SELECT ` + configColumns + ` FROM integration_configs WHERE venue_id = $1 AND integration_type = $2`

	cfg, err := r.scanConfig(r.db.QueryRowxContext(ctx, query, venueID, t))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindByVenue находит все интеграции площадки
func (r *IntegrationRepository) FindByVenue(ctx context.Context, venueID string) ([]*domain.IntegrationConfig, error) {
	query := `SELECT ` + configColumns + ` FROM integration_configs WHERE venue_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, venueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectConfigs(rows)
}

// FindAll находит все интеграции
func (r *IntegrationRepository) FindAll(ctx context.Context) ([]*domain.IntegrationConfig, error) {
	query := `SELECT ` + configColumns + ` FROM integration_configs ORDER BY created_at DESC`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.collectConfigs(rows)
}

func (r *IntegrationRepository) collectConfigs(rows *sqlx.Rows) ([]*domain.IntegrationConfig, error) {
	var configs []*domain.IntegrationConfig
	for rows.Next() {
		cfg, err := r.scanConfig(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// UpdateStatus обновляет статус подключения
func (r *IntegrationRepository) UpdateStatus(ctx context.Context, venueID string, t domain.IntegrationType, status domain.IntegrationStatus) error {
	query := `
        UPDATE integration_configs SET status = $3, updated_at = NOW()
        WHERE venue_id = $1 AND integration_type = $2
    `
	return r.exec(ctx, query, venueID, t, status)
}

// UpdateHealth обновляет состояние здоровья
func (r *IntegrationRepository) UpdateHealth(ctx context.Context, venueID string, t domain.IntegrationType, health domain.HealthState) error {
	query := `
        UPDATE integration_configs SET health_status = $3, updated_at = NOW()
        WHERE venue_id = $1 AND integration_type = $2
    `
	return r.exec(ctx, query, venueID, t, health)
}

// RecordSyncResult фиксирует итог синхронизации в счетчиках конфигурации
func (r *IntegrationRepository) RecordSyncResult(ctx context.Context, venueID string, t domain.IntegrationType, success bool, at time.Time) error {
	var query string
	if success {
		query = `
            UPDATE integration_configs
            SET last_sync_at = $3, failure_count = 0, updated_at = NOW()
            WHERE venue_id = $1 AND integration_type = $2
        `
	} else {
		query = `
            UPDATE integration_configs
            SET last_failure_at = $3, failure_count = failure_count + 1, updated_at = NOW()
            WHERE venue_id = $1 AND integration_type = $2
        `
	}
	return r.exec(ctx, query, venueID, t, at)
}

// FindUserByEmail находит пользователя по email
func (r *IntegrationRepository) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User

	query := `
        SELECT id, email, password_hash, role, created_at, updated_at
        FROM users
        WHERE email = $1
    `

	err := r.db.GetContext(ctx, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByID находит пользователя по ID
func (r *IntegrationRepository) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User

	query := `
        SELECT id, email, password_hash, role, created_at, updated_at
        FROM users
        WHERE id = $1
    `

	err := r.db.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindAPIKeyByHash находит API ключ по хешу
func (r *IntegrationRepository) FindAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error) {
	var key domain.APIKey

	query := `
        SELECT id, user_id, key_hash, name, last_used_at, created_at, expires_at
        FROM api_keys
        WHERE key_hash = $1
    `

	err := r.db.GetContext(ctx, &key, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// UpdateAPIKeyLastUsed обновляет время использования ключа
func (r *IntegrationRepository) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

func (r *IntegrationRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}

	return nil
}
