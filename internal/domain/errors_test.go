package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderErrorUnwrap(t *testing.T) {
	require := require.New(t)

	cause := errors.New("connection reset")
	wrapped := fmt.Errorf("sync products: %w", NewRetryableError(cause))

	var providerErr *ProviderError
	require.ErrorAs(wrapped, &providerErr)
	require.Equal(ClassRetryable, providerErr.Class)
	require.ErrorIs(wrapped, cause)
}

func TestVaultErrorDistinctFromNotFound(t *testing.T) {
	require := require.New(t)

	vaultErr := &VaultError{Op: "get", Err: errors.New("failed to decrypt")}
	require.False(errors.Is(vaultErr, ErrNotFound))
	require.Contains(vaultErr.Error(), "vault get")
}

func TestExchangeError(t *testing.T) {
	require := require.New(t)

	cause := errors.New("invalid code")
	err := &ExchangeError{Provider: IntegrationSquare, Err: cause}
	require.ErrorIs(err, cause)
	require.Contains(err.Error(), "square")
}
