package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/domain"
)

func TestRegistry(t *testing.T) {
	require := require.New(t)
	registry := NewRegistry()

	_, err := registry.Resolve(domain.IntegrationSquare)
	require.ErrorIs(err, domain.ErrNotFound)

	mock := NewMockProvider()
	registry.Register(domain.IntegrationSquare, mock)

	resolved, err := registry.Resolve(domain.IntegrationSquare)
	require.NoError(err)
	require.Same(IntegrationProvider(mock), resolved)
	require.Equal([]domain.IntegrationType{domain.IntegrationSquare}, registry.Types())
}

func TestMockProviderCapabilities(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	mock := NewMockProvider()

	// Заглушка реализует все опциональные способности
	var p IntegrationProvider = mock
	_, ok := p.(ProductSyncer)
	require.True(ok)
	_, ok = p.(CustomerSyncer)
	require.True(ok)
	_, ok = p.(TransactionSyncer)
	require.True(ok)
	_, ok = p.(TransactionFetcher)
	require.True(ok)
	_, ok = p.(OAuthProvider)
	require.True(ok)
	_, ok = p.(WebhookProvider)
	require.True(ok)

	result, err := mock.SyncProducts(ctx, []map[string]any{{"sku": "a"}, {"sku": "b"}})
	require.NoError(err)
	require.True(result.Success)
	require.Equal(2, result.SyncedCount)

	ok, err = mock.TestConnection(ctx)
	require.NoError(err)
	require.True(ok)
}
