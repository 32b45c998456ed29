package domain

import (
	"time"
)

// IntegrationType - тип внешней интеграции
type IntegrationType string

const (
	IntegrationSquare     IntegrationType = "square"
	IntegrationStripe     IntegrationType = "stripe"
	IntegrationSalesforce IntegrationType = "salesforce"
	IntegrationHubspot    IntegrationType = "hubspot"
	IntegrationQuickbooks IntegrationType = "quickbooks"
	IntegrationXero       IntegrationType = "xero"
)

// IntegrationStatus - статус подключения интеграции
type IntegrationStatus string

const (
	StatusDisconnected IntegrationStatus = "disconnected"
	StatusConnecting   IntegrationStatus = "connecting"
	StatusConnected    IntegrationStatus = "connected"
	StatusError        IntegrationStatus = "error"
	StatusSuspended    IntegrationStatus = "suspended"
)

// HealthState - состояние здоровья интеграции
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
	HealthUnknown   HealthState = "unknown"
)

// IntegrationConfig - конфигурация интеграции площадки (venue)
// Уникальна по паре (venue_id, integration_type), жестко не удаляется
type IntegrationConfig struct {
	ID              string            `db:"id" json:"id"`
	VenueID         string            `db:"venue_id" json:"venue_id"`
	IntegrationType IntegrationType   `db:"integration_type" json:"integration_type"`
	Status          IntegrationStatus `db:"status" json:"status"`
	Health          HealthState       `db:"health_status" json:"health_status"`
	LastSyncAt      *time.Time        `db:"last_sync_at" json:"last_sync_at"`
	LastFailureAt   *time.Time        `db:"last_failure_at" json:"last_failure_at"`
	FailureCount    int               `db:"failure_count" json:"failure_count"`
	SyncConfig      SyncConfig        `db:"-" json:"sync_config"`
	FieldMappingRef string            `db:"field_mapping_ref" json:"field_mapping_ref"`
	CreatedAt       time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time         `db:"updated_at" json:"updated_at"`
}

// SyncConfig - настройки синхронизации (интервал, направление, фильтры)
type SyncConfig struct {
	IntervalMinutes int               `json:"interval_minutes"`
	Direction       string            `json:"direction"` // push, pull, bidirectional
	Filters         map[string]string `json:"filters,omitempty"`
}

// User - оператор платформы
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Role         string    `db:"role" json:"role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// APIKey - ключ для машинного доступа к API
type APIKey struct {
	ID         string     `db:"id" json:"id"`
	UserID     string     `db:"user_id" json:"user_id"`
	KeyHash    string     `db:"key_hash" json:"-"`
	Name       string     `db:"name" json:"name"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  *time.Time `db:"expires_at" json:"expires_at"`
}
