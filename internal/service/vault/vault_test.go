package vault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"venue-sync-engine/internal/domain"
	"venue-sync-engine/internal/repository/memory"
)

func newTestVault(t *testing.T, keys map[string]string, active string) *Vault {
	t.Helper()
	v, err := NewVault(keys, active, memory.NewStore().Credentials())
	require.NoError(t, err)
	return v
}

func TestNewVault_Validation(t *testing.T) {
	require := require.New(t)

	_, err := NewVault(nil, "v1", memory.NewStore().Credentials())
	require.Error(err)

	_, err = NewVault(map[string]string{"v1": "secret"}, "v2", memory.NewStore().Credentials())
	require.Error(err)
	require.Contains(err.Error(), "v2")
}

func TestVault_StoreAndGet(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	v := newTestVault(t, map[string]string{"v1": "test-passphrase"}, "v1")

	secret := &domain.Secret{
		Kind: domain.CredentialOAuthToken,
		OAuthToken: &domain.OAuthToken{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Scopes:       []string{"read", "write"},
			ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		},
	}

	require.NoError(v.Store(ctx, "venue-1", domain.IntegrationSquare, secret))

	got, err := v.Get(ctx, "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal(domain.CredentialOAuthToken, got.Kind)
	require.NotNil(got.OAuthToken)
	require.Equal("access-123", got.OAuthToken.AccessToken)
	require.Equal("refresh-456", got.OAuthToken.RefreshToken)
	require.Equal([]string{"read", "write"}, got.OAuthToken.Scopes)
	require.Nil(got.APIKey)
}

func TestVault_StoreOverwrites(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	v := newTestVault(t, map[string]string{"v1": "test-passphrase"}, "v1")

	first := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "old-key", Environment: "sandbox", Valid: true},
	}
	require.NoError(v.Store(ctx, "venue-1", domain.IntegrationStripe, first))

	second := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "new-key", Environment: "production", Valid: true},
	}
	require.NoError(v.Store(ctx, "venue-1", domain.IntegrationStripe, second))

	got, err := v.Get(ctx, "venue-1", domain.IntegrationStripe)
	require.NoError(err)
	require.Equal("new-key", got.APIKey.Key)
	require.Equal("production", got.APIKey.Environment)
}

func TestVault_GetNotFound(t *testing.T) {
	require := require.New(t)
	v := newTestVault(t, map[string]string{"v1": "test-passphrase"}, "v1")

	_, err := v.Get(context.Background(), "venue-1", domain.IntegrationXero)
	require.ErrorIs(err, domain.ErrNotFound)

	var vaultErr *domain.VaultError
	require.False(errors.As(err, &vaultErr), "missing credential must not look like a decryption failure")
}

func TestVault_KeyRotation(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo := memory.NewStore().Credentials()

	v1, err := NewVault(map[string]string{"v1": "old-phrase"}, "v1", repo)
	require.NoError(err)

	secret := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "legacy", Environment: "production", Valid: true},
	}
	require.NoError(v1.Store(ctx, "venue-1", domain.IntegrationSquare, secret))

	// Новый ключ активен, старый остается в keyring только для чтения
	v2, err := NewVault(map[string]string{"v1": "old-phrase", "v2": "new-phrase"}, "v2", repo)
	require.NoError(err)

	got, err := v2.Get(ctx, "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal("legacy", got.APIKey.Key)

	// Перезапись шифрует уже активной версией
	require.NoError(v2.Store(ctx, "venue-1", domain.IntegrationSquare, secret))
	cred, err := repo.Find(ctx, "venue-1", domain.IntegrationSquare)
	require.NoError(err)
	require.Equal("v2", cred.KeyVersion)
}

func TestVault_MissingKeyVersion(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo := memory.NewStore().Credentials()

	old, err := NewVault(map[string]string{"v1": "old-phrase"}, "v1", repo)
	require.NoError(err)
	secret := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "k", Valid: true},
	}
	require.NoError(old.Store(ctx, "venue-1", domain.IntegrationSquare, secret))

	// Vault без v1 в keyring не может прочитать старую запись
	fresh, err := NewVault(map[string]string{"v2": "new-phrase"}, "v2", repo)
	require.NoError(err)

	_, err = fresh.Get(ctx, "venue-1", domain.IntegrationSquare)
	var vaultErr *domain.VaultError
	require.ErrorAs(err, &vaultErr)
	require.Contains(vaultErr.Error(), "v1")
}

func TestVault_WrongKeyFailsDecryption(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo := memory.NewStore().Credentials()

	writer, err := NewVault(map[string]string{"v1": "correct-phrase"}, "v1", repo)
	require.NoError(err)
	secret := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "k", Valid: true},
	}
	require.NoError(writer.Store(ctx, "venue-1", domain.IntegrationSquare, secret))

	// Та же версия, другая фраза: GCM обязан отвергнуть шифртекст
	reader, err := NewVault(map[string]string{"v1": "wrong-phrase"}, "v1", repo)
	require.NoError(err)

	_, err = reader.Get(ctx, "venue-1", domain.IntegrationSquare)
	var vaultErr *domain.VaultError
	require.ErrorAs(err, &vaultErr)
}

func TestVault_CorruptCiphertext(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo := memory.NewStore().Credentials()

	v, err := NewVault(map[string]string{"v1": "phrase"}, "v1", repo)
	require.NoError(err)

	require.NoError(repo.Upsert(ctx, &domain.Credential{
		VenueID:         "venue-1",
		IntegrationType: domain.IntegrationSquare,
		Kind:            domain.CredentialAPIKey,
		Ciphertext:      "bm90IGEgcmVhbCBjaXBoZXJ0ZXh0",
		KeyVersion:      "v1",
	}))

	_, err = v.Get(ctx, "venue-1", domain.IntegrationSquare)
	var vaultErr *domain.VaultError
	require.ErrorAs(err, &vaultErr)
}

func TestVault_Delete(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	repo := memory.NewStore().Credentials()
	v, err := NewVault(map[string]string{"v1": "phrase"}, "v1", repo)
	require.NoError(err)

	secret := &domain.Secret{
		Kind:   domain.CredentialAPIKey,
		APIKey: &domain.APIKeySecret{Key: "k", Valid: true},
	}
	require.NoError(v.Store(ctx, "venue-1", domain.IntegrationSquare, secret))
	require.NoError(v.Delete(ctx, "venue-1", domain.IntegrationSquare))

	_, err = v.Get(ctx, "venue-1", domain.IntegrationSquare)
	require.ErrorIs(err, domain.ErrNotFound)

	require.ErrorIs(v.Delete(ctx, "venue-1", domain.IntegrationSquare), domain.ErrNotFound)
}

func TestVault_KeyVersions(t *testing.T) {
	require := require.New(t)
	v := newTestVault(t, map[string]string{"v2": "b", "v1": "a", "v10": "c"}, "v1")
	require.Equal([]string{"v1", "v10", "v2"}, v.KeyVersions())
}
