package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/rs/zerolog/log"

	"venue-sync-engine/internal/domain"
	repoInterface "venue-sync-engine/internal/repository/interface"
)

// Vault отвечает за шифрование и хранение секретов интеграций
// Единственный компонент, которому разрешено расшифровывать Credential
type Vault struct {
	keyring       map[string][]byte
	activeVersion string
	repo          repoInterface.CredentialRepository
}

// NewVault создает Vault с набором версионированных ключей
// keys - отображение версии ключа на парольную фразу, activeVersion - версия,
// которой шифруются новые записи; старые версии остаются читаемыми
func NewVault(keys map[string]string, activeVersion string, repo repoInterface.CredentialRepository) (*Vault, error) {
	if len(keys) == 0 {
		return nil, errors.New("vault: no encryption keys configured")
	}
	if _, ok := keys[activeVersion]; !ok {
		return nil, fmt.Errorf("vault: active key version %q is not configured", activeVersion)
	}

	keyring := make(map[string][]byte, len(keys))
	for version, passphrase := range keys {
		// Хешируем парольную фразу до 32 байт для AES-256
		hash := sha256.Sum256([]byte(passphrase))
		keyring[version] = hash[:]
	}

	return &Vault{
		keyring:       keyring,
		activeVersion: activeVersion,
		repo:          repo,
	}, nil
}

// Store шифрует секрет активным ключом и перезаписывает запись пары (venue, тип)
func (v *Vault) Store(ctx context.Context, venueID string, t domain.IntegrationType, secret *domain.Secret) error {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return &domain.VaultError{Op: "store", Err: fmt.Errorf("failed to marshal secret: %w", err)}
	}

	ciphertext, err := v.encrypt(plaintext, v.activeVersion)
	if err != nil {
		return &domain.VaultError{Op: "store", Err: err}
	}

	cred := &domain.Credential{
		VenueID:         venueID,
		IntegrationType: t,
		Kind:            secret.Kind,
		Ciphertext:      ciphertext,
		KeyVersion:      v.activeVersion,
	}

	if err := v.repo.Upsert(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}

	log.Debug().
		Str("venue_id", venueID).
		Str("integration_type", string(t)).
		Str("key_version", v.activeVersion).
		Msg("credential stored")

	return nil
}

// Get читает и расшифровывает секрет пары (venue, тип)
// Отсутствие записи - ErrNotFound; ошибка расшифровки - VaultError,
// эти случаи вызывающие обязаны различать
func (v *Vault) Get(ctx context.Context, venueID string, t domain.IntegrationType) (*domain.Secret, error) {
	cred, err := v.repo.Find(ctx, venueID, t)
	if err != nil {
		return nil, err
	}

	plaintext, err := v.decrypt(cred.Ciphertext, cred.KeyVersion)
	if err != nil {
		return nil, &domain.VaultError{Op: "get", Err: err}
	}

	var secret domain.Secret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return nil, &domain.VaultError{Op: "get", Err: fmt.Errorf("failed to unmarshal secret: %w", err)}
	}

	// Фиксируем чтение; ошибка здесь не мешает вызывающему
	if err := v.repo.TouchLastUsed(ctx, cred.ID); err != nil {
		log.Warn().Err(err).Str("credential_id", cred.ID).Msg("failed to touch last_used_at")
	}

	return &secret, nil
}

// Delete удаляет секрет при отключении интеграции
func (v *Vault) Delete(ctx context.Context, venueID string, t domain.IntegrationType) error {
	return v.repo.Delete(ctx, venueID, t)
}

// KeyVersions возвращает известные версии ключей, по возрастанию
func (v *Vault) KeyVersions() []string {
	versions := make([]string, 0, len(v.keyring))
	for version := range v.keyring {
		versions = append(versions, version)
	}
	sort.Strings(versions)
	return versions
}

// encrypt шифрует данные ключом заданной версии через AES-GCM
func (v *Vault) encrypt(plaintext []byte, version string) (string, error) {
	key, ok := v.keyring[version]
	if !ok {
		return "", fmt.Errorf("unknown key version %q", version)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt расшифровывает данные ключом версии, записанной рядом с шифртекстом
func (v *Vault) decrypt(encrypted string, version string) ([]byte, error) {
	key, ok := v.keyring[version]
	if !ok {
		return nil, fmt.Errorf("unknown key version %q", version)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}

	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}

	return plaintext, nil
}
