package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseKeyring(t *testing.T) {
	require := require.New(t)

	require.Empty(parseKeyring(""))
	require.Equal(map[string]string{"v1": "phrase"}, parseKeyring("v1:phrase"))
	require.Equal(
		map[string]string{"v1": "old", "v2": "new:with:colons"},
		parseKeyring("v1:old, v2:new:with:colons"),
	)
	require.Empty(parseKeyring("malformed"))
}

func TestValidate_ProductionFailClosed(t *testing.T) {
	require := require.New(t)

	cfg := &Config{Env: "production", JWTSecret: "real-secret"}
	require.Error(cfg.Validate())

	cfg.EncryptionKeys = map[string]string{"v1": "short"}
	require.Error(cfg.Validate())

	cfg.EncryptionKeys = map[string]string{"v1": "a-long-enough-passphrase"}
	cfg.ActiveKeyVersion = "v1"
	require.NoError(cfg.Validate())

	cfg.JWTSecret = "your-secret-key"
	require.Error(cfg.Validate())
}

func TestValidate_DevelopmentFallbackKey(t *testing.T) {
	require := require.New(t)

	cfg := &Config{Env: "development", JWTSecret: "your-secret-key"}
	require.NoError(cfg.Validate())
	require.NotEmpty(cfg.EncryptionKeys)
	require.Equal("v1", cfg.ActiveKeyVersion)
}

func TestValidate_ActiveVersionMustExist(t *testing.T) {
	cfg := &Config{
		Env:              "development",
		EncryptionKeys:   map[string]string{"v1": "a-long-enough-passphrase"},
		ActiveKeyVersion: "v9",
	}
	require.Error(t, cfg.Validate())
}
