package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"venue-sync-engine/internal/domain"
)

// MockProvider - адаптер-заглушка для песочницы и тестов
// Поведение настраивается полями, по умолчанию все операции успешны
type MockProvider struct {
	ConnectErr    error
	Connected     bool
	SyncErr       error
	SyncDelay     time.Duration
	ExchangeErr   error
	RefreshErr    error
	WebhookSecret string

	secret *domain.Secret
}

// NewMockProvider создает заглушку с успешным поведением
func NewMockProvider() *MockProvider {
	return &MockProvider{Connected: true}
}

func (m *MockProvider) Initialize(ctx context.Context, secret *domain.Secret) error {
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.secret = secret
	return nil
}

func (m *MockProvider) TestConnection(ctx context.Context) (bool, error) {
	if m.ConnectErr != nil {
		return false, m.ConnectErr
	}
	return m.Connected, nil
}

func (m *MockProvider) syncItems(ctx context.Context, items []map[string]any) (*SyncResult, error) {
	if m.SyncDelay > 0 {
		select {
		case <-time.After(m.SyncDelay):
		case <-ctx.Done():
			return nil, domain.NewRetryableError(ctx.Err())
		}
	}
	if m.SyncErr != nil {
		return nil, m.SyncErr
	}
	return &SyncResult{
		Success:     true,
		SyncedCount: len(items),
		DurationMS:  m.SyncDelay.Milliseconds(),
	}, nil
}

func (m *MockProvider) SyncProducts(ctx context.Context, items []map[string]any) (*SyncResult, error) {
	return m.syncItems(ctx, items)
}

func (m *MockProvider) SyncCustomers(ctx context.Context, items []map[string]any) (*SyncResult, error) {
	return m.syncItems(ctx, items)
}

func (m *MockProvider) SyncTransactions(ctx context.Context, items []map[string]any) (*SyncResult, error) {
	return m.syncItems(ctx, items)
}

func (m *MockProvider) FetchTransactions(ctx context.Context, start, end time.Time) ([]map[string]any, error) {
	if m.SyncErr != nil {
		return nil, m.SyncErr
	}
	return []map[string]any{}, nil
}

func (m *MockProvider) GetOAuthURL(state string) string {
	return "https://sandbox.example.com/oauth/authorize?state=" + state
}

func (m *MockProvider) ExchangeCodeForToken(ctx context.Context, code string) (*domain.OAuthToken, error) {
	if m.ExchangeErr != nil {
		return nil, m.ExchangeErr
	}
	return &domain.OAuthToken{
		AccessToken:  "mock-access-" + code,
		RefreshToken: "mock-refresh-" + code,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*domain.OAuthToken, error) {
	if m.RefreshErr != nil {
		return nil, m.RefreshErr
	}
	return &domain.OAuthToken{
		AccessToken:  "mock-access-refreshed",
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (m *MockProvider) ValidateWebhookSignature(payload []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(m.WebhookSecret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (m *MockProvider) HandleWebhook(ctx context.Context, event map[string]any) error {
	if _, ok := event["type"]; !ok {
		return fmt.Errorf("webhook event without type")
	}
	return nil
}
