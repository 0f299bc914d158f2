// Package credentials provides secure storage for the API keys vidlens uses.
// Keys are kept in ~/.vidlens/credentials.yaml, encrypted with AES-GCM.
//
// Encryption Key Storage:
// The encryption key is stored securely using the system keyring:
// - macOS: Keychain
// - Windows: Credential Manager
// - Linux: Secret Service (libsecret)
//
// Where no keyring is available, set VIDLENS_CREDENTIALS_PASSPHRASE to derive
// the key with Argon2id, or VIDLENS_ENCRYPTION_KEY to a 64-character hex
// string (32 bytes).
package credentials

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Credential storage constants.
const (
	DefaultCredentialsDir  = ".vidlens"
	DefaultCredentialsFile = "credentials.yaml"
)

// Common errors.
var (
	// ErrNoCredentials is returned when no credentials are stored.
	ErrNoCredentials = errors.New("no credentials stored")
	// ErrInvalidCredentials is returned when stored credentials are malformed.
	ErrInvalidCredentials = errors.New("invalid credentials format")
	// ErrEncryptionFailed is returned when encryption/decryption fails.
	ErrEncryptionFailed = errors.New("encryption failed")
)

// Credentials holds the stored service keys.
type Credentials struct {
	// CompletionAPIKey is the key for the vision/chat completion service.
	CompletionAPIKey string `yaml:"completion_api_key,omitempty"`
	// TranscriptionAPIKey is the key for the speech-to-text service.
	TranscriptionAPIKey string `yaml:"transcription_api_key,omitempty"`
	// LastUpdated is when the credentials were last updated.
	LastUpdated time.Time `yaml:"last_updated"`
}

// Store manages credential storage operations.
type Store struct {
	credentialsDir string
	encryptionKey  []byte
	keyProvider    KeyProvider
}

// NewStore creates a credential store in the config directory, choosing the
// key provider with GetDefaultKeyProvider.
func NewStore() (*Store, error) {
	dir, err := CredentialsDir()
	if err != nil {
		return nil, fmt.Errorf("getting credentials directory: %w", err)
	}

	keyProvider, err := GetDefaultKeyProvider(dir)
	if err != nil {
		return nil, fmt.Errorf("initializing key provider: %w", err)
	}

	return NewStoreWithKeyProvider(dir, keyProvider)
}

// NewStoreWithKeyProvider creates a credential store in dir with a custom key provider.
func NewStoreWithKeyProvider(dir string, keyProvider KeyProvider) (*Store, error) {
	key, err := keyProvider.GetKey()
	if err != nil {
		return nil, fmt.Errorf("getting encryption key: %w", err)
	}

	return &Store{
		credentialsDir: dir,
		encryptionKey:  key,
		keyProvider:    keyProvider,
	}, nil
}

// KeyDescription describes where the encryption key is kept.
func (s *Store) KeyDescription() string {
	return s.keyProvider.Description()
}

// CredentialsDir returns the credentials directory path.
// Uses $VIDLENS_CONFIG_DIR if set, otherwise ~/.vidlens
func CredentialsDir() (string, error) {
	if dir := os.Getenv("VIDLENS_CONFIG_DIR"); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}

	return filepath.Join(home, DefaultCredentialsDir), nil
}

// Path returns the full path to the credentials file.
func (s *Store) Path() string {
	return filepath.Join(s.credentialsDir, DefaultCredentialsFile)
}

// Save stores credentials to the credentials file.
func (s *Store) Save(creds *Credentials) error {
	if err := os.MkdirAll(s.credentialsDir, 0700); err != nil {
		return fmt.Errorf("creating credentials directory: %w", err)
	}

	storageCreds := *creds
	storageCreds.LastUpdated = time.Now()

	for _, field := range []*string{&storageCreds.CompletionAPIKey, &storageCreds.TranscriptionAPIKey} {
		if *field == "" {
			continue
		}
		encrypted, err := s.encrypt(*field)
		if err != nil {
			return fmt.Errorf("encrypting API key: %w", err)
		}
		*field = encrypted
	}

	data, err := yaml.Marshal(&storageCreds)
	if err != nil {
		return fmt.Errorf("marshaling credentials: %w", err)
	}

	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("writing credentials file: %w", err)
	}

	return nil
}

// Load reads credentials from the credentials file.
func (s *Store) Load() (*Credentials, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCredentials
		}
		return nil, fmt.Errorf("reading credentials file: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	for _, field := range []*string{&creds.CompletionAPIKey, &creds.TranscriptionAPIKey} {
		if *field == "" {
			continue
		}
		decrypted, err := s.decrypt(*field)
		if err != nil {
			return nil, fmt.Errorf("decrypting API key: %w", err)
		}
		*field = decrypted
	}

	return &creds, nil
}

// Delete removes stored credentials.
func (s *Store) Delete() error {
	if err := os.Remove(s.Path()); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("removing credentials file: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

func (s *Store) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: creating cipher: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GCM: %v", ErrEncryptionFailed, err)
	}
	return gcm, nil
}

// encrypt encrypts a string using AES-GCM.
func (s *Store) encrypt(plaintext string) (string, error) {
	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: generating nonce: %v", ErrEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts an AES-GCM encrypted string.
func (s *Store) decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: decoding base64: %v", ErrEncryptionFailed, err)
	}

	gcm, err := s.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", ErrEncryptionFailed)
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed: %v", ErrEncryptionFailed, err)
	}

	return string(plaintext), nil
}

// MaskAPIKey returns a masked API key showing only a short prefix.
func MaskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return strings.Repeat("*", len(apiKey))
	}
	return apiKey[:4] + strings.Repeat("*", 8) + "..."
}
