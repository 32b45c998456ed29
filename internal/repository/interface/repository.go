package _interface

import (
	"context"
	"time"

	"venue-sync-engine/internal/domain"
)

// IntegrationRepository - интерфейс для работы с конфигурациями интеграций
type IntegrationRepository interface {
	// Конфигурации
	Upsert(ctx context.Context, cfg *domain.IntegrationConfig) error
	Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.IntegrationConfig, error)
	FindByVenue(ctx context.Context, venueID string) ([]*domain.IntegrationConfig, error)
	FindAll(ctx context.Context) ([]*domain.IntegrationConfig, error)
	UpdateStatus(ctx context.Context, venueID string, t domain.IntegrationType, status domain.IntegrationStatus) error
	UpdateHealth(ctx context.Context, venueID string, t domain.IntegrationType, health domain.HealthState) error
	RecordSyncResult(ctx context.Context, venueID string, t domain.IntegrationType, success bool, at time.Time) error

	// Пользователи и API ключи
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
	FindAPIKeyByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// CredentialRepository - интерфейс хранилища зашифрованных секретов
// Используется только Vault'ом
type CredentialRepository interface {
	Upsert(ctx context.Context, cred *domain.Credential) error
	Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.Credential, error)
	TouchLastUsed(ctx context.Context, id string) error
	Delete(ctx context.Context, venueID string, t domain.IntegrationType) error
}

// TaskRepository - интерфейс хранилища задач синхронизации
type TaskRepository interface {
	// Insert вставляет задачу; при конфликте idempotency_key возвращает
	// существующую задачу и created=false
	Insert(ctx context.Context, task *domain.SyncTask) (*domain.SyncTask, bool, error)
	FindByID(ctx context.Context, id string) (*domain.SyncTask, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*domain.SyncTask, error)
	ListByVenue(ctx context.Context, venueID string, limit, offset int) ([]*domain.SyncTask, int, error)

	// ClaimNext атомарно переводит одну подходящую pending задачу в processing
	// Порядок: приоритет, затем время постановки; нездоровые интеграции пропускаются
	ClaimNext(ctx context.Context, now time.Time) (*domain.SyncTask, error)

	MarkCompleted(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, incrementAttempts bool) error
	MarkDeadLetter(ctx context.Context, id string, lastError string) error

	// ReclaimStale возвращает зависшие processing задачи обратно в pending;
	// исчерпавшие попытки уходят в dead_letter
	ReclaimStale(ctx context.Context, olderThan time.Time) (int64, error)
	// ExpireOverdue списывает просроченные задачи, не трогая терминальные
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)

	// DeadLetterTasks возвращает dead-letter задачи, еще не переинжектированные
	DeadLetterTasks(ctx context.Context, limit int) ([]*domain.SyncTask, error)
	// MarkReinjected помечает dead-letter задачу как замененную новой
	MarkReinjected(ctx context.Context, id, replacementID string) error
	QueueStats(ctx context.Context, venueID string, t domain.IntegrationType) (depth int, oldestPending *time.Time, err error)
	MetricsWindow(ctx context.Context, venueID string, t domain.IntegrationType, since time.Time) (*domain.TaskWindowMetrics, error)
}

// HealthRepository - интерфейс хранилища сводок здоровья
type HealthRepository interface {
	Upsert(ctx context.Context, snapshot *domain.HealthSnapshot) error
	Find(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.HealthSnapshot, error)
}
