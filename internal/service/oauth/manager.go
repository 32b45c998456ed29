package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/provider"
	repoInterface "venue-sync-engine/internal/repository/interface"
	"venue-sync-engine/internal/service/vault"
)

// DefaultStateTTL - время жизни state токена
const DefaultStateTTL = 10 * time.Minute

// stateEntry - ожидающий callback, живет только в памяти
type stateEntry struct {
	VenueID         string
	IntegrationType domain.IntegrationType
	UserID          string
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// ConnectResult - итог успешного OAuth подключения
type ConnectResult struct {
	VenueID         string                   `json:"venue_id"`
	IntegrationType domain.IntegrationType   `json:"integration_type"`
	Status          domain.IntegrationStatus `json:"status"`
}

// Manager управляет state машиной OAuth авторизации
// State токены одноразовые: повторный callback с тем же state отклоняется
type Manager struct {
	mu     sync.Mutex
	states map[string]stateEntry

	ttl          time.Duration
	vault        *vault.Vault
	providers    *provider.Registry
	integrations repoInterface.IntegrationRepository
}

// NewManager создает менеджер OAuth авторизации
func NewManager(v *vault.Vault, providers *provider.Registry, integrations repoInterface.IntegrationRepository) *Manager {
	return &Manager{
		states:       make(map[string]stateEntry),
		ttl:          DefaultStateTTL,
		vault:        v,
		providers:    providers,
		integrations: integrations,
	}
}

// Initiate начинает авторизацию и возвращает URL внешнего сервиса
func (m *Manager) Initiate(ctx context.Context, venueID string, t domain.IntegrationType, userID string) (string, error) {
	p, err := m.providers.Resolve(t)
	if err != nil {
		return "", err
	}

	oauthProvider, ok := p.(provider.OAuthProvider)
	if !ok {
		return "", fmt.Errorf("provider %s does not support oauth: %w", t, domain.ErrNotFound)
	}

	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}

	// Конфигурация создается при первой попытке подключения
	cfg := &domain.IntegrationConfig{
		VenueID:         venueID,
		IntegrationType: t,
		Status:          domain.StatusConnecting,
		Health:          domain.HealthUnknown,
	}
	if err := m.integrations.Upsert(ctx, cfg); err != nil {
		return "", fmt.Errorf("failed to upsert integration config: %w", err)
	}
	if err := m.integrations.UpdateStatus(ctx, venueID, t, domain.StatusConnecting); err != nil {
		return "", fmt.Errorf("failed to mark integration connecting: %w", err)
	}

	now := time.Now()
	m.mu.Lock()
	m.states[state] = stateEntry{
		VenueID:         venueID,
		IntegrationType: t,
		UserID:          userID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(m.ttl),
	}
	m.mu.Unlock()

	log.Info().
		Str("venue_id", venueID).
		Str("integration_type", string(t)).
		Str("user_id", userID).
		Msg("oauth handshake initiated")

	return oauthProvider.GetOAuthURL(state), nil
}

// HandleCallback завершает авторизацию: обменивает код на токен,
// сохраняет его через Vault и переводит интеграцию в connected
func (m *Manager) HandleCallback(ctx context.Context, t domain.IntegrationType, code, state string) (*ConnectResult, error) {
	entry, err := m.consume(state)
	if err != nil {
		return nil, err
	}
	if entry.IntegrationType != t {
		return nil, domain.ErrInvalidState
	}

	p, err := m.providers.Resolve(t)
	if err != nil {
		return nil, err
	}
	oauthProvider, ok := p.(provider.OAuthProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support oauth: %w", t, domain.ErrNotFound)
	}

	token, err := oauthProvider.ExchangeCodeForToken(ctx, code)
	if err != nil {
		m.markError(ctx, entry)
		return nil, &domain.ExchangeError{Provider: t, Err: err}
	}

	secret := &domain.Secret{
		Kind:       domain.CredentialOAuthToken,
		OAuthToken: token,
	}
	if err := m.vault.Store(ctx, entry.VenueID, t, secret); err != nil {
		m.markError(ctx, entry)
		return nil, err
	}

	if err := m.integrations.UpdateStatus(ctx, entry.VenueID, t, domain.StatusConnected); err != nil {
		return nil, fmt.Errorf("failed to mark integration connected: %w", err)
	}

	log.Info().
		Str("venue_id", entry.VenueID).
		Str("integration_type", string(t)).
		Msg("oauth handshake completed")

	return &ConnectResult{
		VenueID:         entry.VenueID,
		IntegrationType: t,
		Status:          domain.StatusConnected,
	}, nil
}

// consume атомарно проверяет и удаляет state
// Из двух гонящихся callback'ов с одним state выигрывает ровно один
func (m *Manager) consume(state string) (stateEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.states[state]
	if !ok {
		return stateEntry{}, domain.ErrInvalidState
	}

	delete(m.states, state)

	if time.Now().After(entry.ExpiresAt) {
		return stateEntry{}, domain.ErrExpiredState
	}

	return entry, nil
}

// SweepExpired удаляет истекшие state токены, вызывается джанитором
func (m *Manager) SweepExpired() int {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for state, entry := range m.states {
		if now.After(entry.ExpiresAt) {
			delete(m.states, state)
			removed++
		}
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("oauth state janitor sweep")
	}

	return removed
}

// PendingStates возвращает число ожидающих callback'ов
func (m *Manager) PendingStates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states)
}

func (m *Manager) markError(ctx context.Context, entry stateEntry) {
	if err := m.integrations.UpdateStatus(ctx, entry.VenueID, entry.IntegrationType, domain.StatusError); err != nil {
		log.Warn().Err(err).
			Str("venue_id", entry.VenueID).
			Str("integration_type", string(entry.IntegrationType)).
			Msg("failed to mark integration error")
	}
}

// generateState генерирует криптографически случайный state (256 бит)
func generateState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
