package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// CredentialRepository - PostgreSQL хранилище зашифрованных секретов
type CredentialRepository struct {
	db *sqlx.DB
}

// NewCredentialRepository создает новый репозиторий секретов
func NewCredentialRepository(db *sqlx.DB) repoInterface.CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert перезаписывает секрет пары (venue, тип) одним запросом
// Читатель никогда не видит частично записанный секрет
func (r *CredentialRepository) Upsert(ctx context.Context, cred *domain.Credential) error {
	query := `
        INSERT INTO credentials (id, venue_id, integration_type, kind, ciphertext, key_version, created_at, updated_at)
        VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, NOW(), NOW())
        ON CONFLICT (venue_id, integration_type) DO UPDATE
        SET kind = EXCLUDED.kind,
            ciphertext = EXCLUDED.ciphertext,
            key_version = EXCLUDED.key_version,
            updated_at = NOW()
        RETURNING id, created_at, updated_at
    `

	return r.db.QueryRowContext(ctx, query,
		cred.VenueID,
		cred.IntegrationType,
		cred.Kind,
		cred.Ciphertext,
		cred.KeyVersion,
	).Scan(&cred.ID, &cred.CreatedAt, &cred.UpdatedAt)
}

// Find находит секрет пары (venue, тип)
func (r *CredentialRepository) Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.Credential, error) {
	var cred domain.Credential

	query := `
        SELECT id, venue_id, integration_type, kind, ciphertext, key_version, last_used_at, created_at, updated_at
        FROM credentials
        WHERE venue_id = $1 AND integration_type = $2
    `

	err := r.db.GetContext(ctx, &cred, query, venueID, t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// TouchLastUsed обновляет время последнего чтения секрета
func (r *CredentialRepository) TouchLastUsed(ctx context.Context, id string) error {
	query := `UPDATE credentials SET last_used_at = NOW() WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// Delete удаляет секрет при отключении интеграции
func (r *CredentialRepository) Delete(ctx context.Context, venueID string, t domain.IntegrationType) error {
	query := `DELETE FROM credentials WHERE venue_id = $1 AND integration_type = $2`

	result, err := r.db.ExecContext(ctx, query, venueID, t)
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
