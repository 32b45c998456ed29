package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"venue-sync-engine/internal/domain"
)

// SyncResult - результат операции синхронизации во внешнем сервисе
type SyncResult struct {
	Success     bool     `json:"success"`
	SyncedCount int      `json:"synced_count"`
	FailedCount int      `json:"failed_count"`
	Errors      []string `json:"errors,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// IntegrationProvider - базовый контракт адаптера внешнего сервиса
// Конкретные адаптеры (Square, Salesforce и т.д.) живут вне ядра
type IntegrationProvider interface {
	Initialize(ctx context.Context, secret *domain.Secret) error
	TestConnection(ctx context.Context) (bool, error)
}

// ProductSyncer - опциональная способность: синхронизация товаров
type ProductSyncer interface {
	SyncProducts(ctx context.Context, items []map[string]any) (*SyncResult, error)
}

// CustomerSyncer - опциональная способность: синхронизация клиентов
type CustomerSyncer interface {
	SyncCustomers(ctx context.Context, items []map[string]any) (*SyncResult, error)
}

// TransactionSyncer - опциональная способность: синхронизация транзакций
type TransactionSyncer interface {
	SyncTransactions(ctx context.Context, items []map[string]any) (*SyncResult, error)
}

// TransactionFetcher - опциональная способность: выгрузка транзакций
type TransactionFetcher interface {
	FetchTransactions(ctx context.Context, start, end time.Time) ([]map[string]any, error)
}

// OAuthProvider - опциональная способность: авторизация по OAuth
type OAuthProvider interface {
	GetOAuthURL(state string) string
	ExchangeCodeForToken(ctx context.Context, code string) (*domain.OAuthToken, error)
	RefreshToken(ctx context.Context, refreshToken string) (*domain.OAuthToken, error)
}

// WebhookProvider - опциональная способность: прием вебхуков
type WebhookProvider interface {
	ValidateWebhookSignature(payload []byte, signature string) bool
	HandleWebhook(ctx context.Context, event map[string]any) error
}

// Registry - реестр адаптеров, заполняется один раз на старте
type Registry struct {
	mu        sync.RWMutex
	providers map[domain.IntegrationType]IntegrationProvider
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[domain.IntegrationType]IntegrationProvider),
	}
}

// Register регистрирует адаптер для типа интеграции
func (r *Registry) Register(t domain.IntegrationType, p IntegrationProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[t] = p
}

// Resolve возвращает адаптер для типа интеграции
func (r *Registry) Resolve(t domain.IntegrationType) (IntegrationProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("provider %s: %w", t, domain.ErrNotFound)
	}
	return p, nil
}

// Types возвращает все зарегистрированные типы интеграций
func (r *Registry) Types() []domain.IntegrationType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]domain.IntegrationType, 0, len(r.providers))
	for t := range r.providers {
		types = append(types, t)
	}
	return types
}
