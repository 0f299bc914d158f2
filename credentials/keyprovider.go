package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/argon2"
)

const (
	// keyringService is the service name used in the system keyring.
	keyringService = "vidlens"
	// keyringUser is the user/account name used in the system keyring.
	keyringUser = "encryption-key"
	// keyLength is the required encryption key length (256 bits for AES-256).
	keyLength = 32

	// EnvEncryptionKey holds a 64-character hex key.
	EnvEncryptionKey = "VIDLENS_ENCRYPTION_KEY"
	// EnvPassphrase selects a passphrase-derived key.
	EnvPassphrase = "VIDLENS_CREDENTIALS_PASSPHRASE"

	saltFile = "credentials.salt"
)

// Argon2 parameters for passphrase-based key derivation.
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
)

// ErrKeyringUnavailable indicates the system keyring is not available.
var ErrKeyringUnavailable = errors.New("system keyring unavailable")

// KeyProvider is an interface for obtaining the encryption key.
type KeyProvider interface {
	// GetKey returns the 32-byte encryption key.
	// If no key exists, it should generate and store a new one.
	GetKey() ([]byte, error)

	// Description returns a human-readable description of the key storage mechanism.
	Description() string
}

// KeyringKeyProvider stores the encryption key in the system keyring
// (macOS Keychain, Windows Credential Manager, Linux Secret Service).
type KeyringKeyProvider struct {
	mu sync.Mutex
}

// NewKeyringKeyProvider creates a new KeyringKeyProvider.
func NewKeyringKeyProvider() *KeyringKeyProvider {
	return &KeyringKeyProvider{}
}

// GetKey retrieves the encryption key from the system keyring.
// If no key exists, it generates a new cryptographically random key and stores it.
func (p *KeyringKeyProvider) GetKey() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	keyHex, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		key, decErr := hex.DecodeString(keyHex)
		if decErr == nil && len(key) == keyLength {
			return key, nil
		}
	}

	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrKeyringUnavailable, err)
	}

	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	if err := keyring.Set(keyringService, keyringUser, hex.EncodeToString(key)); err != nil {
		return nil, fmt.Errorf("%w: storing key: %v", ErrKeyringUnavailable, err)
	}
	return key, nil
}

// Description returns a description of this key provider.
func (p *KeyringKeyProvider) Description() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "windows":
		return "Windows Credential Manager"
	default:
		return "System Keyring (Secret Service)"
	}
}

// PassphraseKeyProvider derives an encryption key from a user-provided passphrase
// using Argon2id. This is used when the system keyring is unavailable.
type PassphraseKeyProvider struct {
	passphrase string
	salt       []byte
}

// NewPassphraseKeyProvider creates a new PassphraseKeyProvider.
// The salt should be stored alongside the encrypted credentials.
func NewPassphraseKeyProvider(passphrase string, salt []byte) *PassphraseKeyProvider {
	return &PassphraseKeyProvider{
		passphrase: passphrase,
		salt:       salt,
	}
}

// GetKey derives the encryption key from the passphrase using Argon2id.
func (p *PassphraseKeyProvider) GetKey() ([]byte, error) {
	if p.passphrase == "" {
		return nil, errors.New("passphrase is required")
	}
	if len(p.salt) == 0 {
		return nil, errors.New("salt is required")
	}

	return argon2.IDKey([]byte(p.passphrase), p.salt, argon2Time, argon2Memory, argon2Threads, keyLength), nil
}

// Description returns a description of this key provider.
func (p *PassphraseKeyProvider) Description() string {
	return "Passphrase-derived key (Argon2id)"
}

// GenerateSalt generates a random salt for passphrase key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// LoadOrCreateSalt reads the passphrase salt kept in dir, creating it on first use.
func LoadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	data, err := os.ReadFile(path)
	if err == nil {
		salt, decErr := hex.DecodeString(strings.TrimSpace(string(data)))
		if decErr != nil || len(salt) == 0 {
			return nil, fmt.Errorf("%w: corrupt salt file %s", ErrInvalidCredentials, path)
		}
		return salt, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading salt: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating credentials directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(salt)), 0600); err != nil {
		return nil, fmt.Errorf("writing salt: %w", err)
	}
	return salt, nil
}

// EnvKeyProvider uses an encryption key from an environment variable.
// This is primarily for testing and CI environments.
type EnvKeyProvider struct {
	envVar string
}

// NewEnvKeyProvider creates a new EnvKeyProvider that reads the key from the given env var.
func NewEnvKeyProvider(envVar string) *EnvKeyProvider {
	return &EnvKeyProvider{envVar: envVar}
}

// GetKey returns the key from the environment variable.
func (p *EnvKeyProvider) GetKey() ([]byte, error) {
	keyHex := os.Getenv(p.envVar)
	if keyHex == "" {
		return nil, fmt.Errorf("environment variable %s not set", p.envVar)
	}

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid key in %s: %w", p.envVar, err)
	}

	if len(key) != keyLength {
		return nil, fmt.Errorf("key in %s must be %d bytes, got %d", p.envVar, keyLength, len(key))
	}

	return key, nil
}

// Description returns a description of this key provider.
func (p *EnvKeyProvider) Description() string {
	return fmt.Sprintf("Environment variable (%s)", p.envVar)
}

// GetDefaultKeyProvider returns the appropriate key provider for the current environment.
// Priority:
// 1. VIDLENS_ENCRYPTION_KEY environment variable (for CI/testing)
// 2. VIDLENS_CREDENTIALS_PASSPHRASE, with a salt kept in dir
// 3. System keyring (macOS Keychain, Windows Credential Manager, Linux Secret Service)
func GetDefaultKeyProvider(dir string) (KeyProvider, error) {
	if os.Getenv(EnvEncryptionKey) != "" {
		return NewEnvKeyProvider(EnvEncryptionKey), nil
	}

	if pass := os.Getenv(EnvPassphrase); pass != "" {
		salt, err := LoadOrCreateSalt(dir)
		if err != nil {
			return nil, err
		}
		return NewPassphraseKeyProvider(pass, salt), nil
	}

	provider := NewKeyringKeyProvider()
	if _, err := provider.GetKey(); err != nil {
		if errors.Is(err, ErrKeyringUnavailable) {
			return nil, fmt.Errorf("system keyring unavailable; set %s or %s: %w", EnvEncryptionKey, EnvPassphrase, err)
		}
		return nil, err
	}

	return provider, nil
}
