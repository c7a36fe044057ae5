// Package keyring provides secure credential storage for ovpnctl.
// It uses the system keyring when available, falling back to
// encrypted local file storage when not.
package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/pbkdf2"

	"github.com/yllada/ovpnctl/common"
)

const (
	// serviceName is the identifier used in the system keyring.
	serviceName = "ovpnctl"

	// pbkdf2Iterations hardens the locally derived encryption key.
	pbkdf2Iterations = 4096
)

// credential is the stored record for one configuration.
type credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Store keeps per-configuration VPN credentials. It prefers the system
// keyring and transparently falls back to an AES-GCM encrypted file when
// no keyring daemon is reachable. Implements common.CredentialStore.
type Store struct {
	mu            sync.RWMutex
	useLocal      bool
	localFile     string
	encryptionKey []byte
	local         map[string]credential
}

// NewStore probes the system keyring and returns a ready store.
func NewStore() (*Store, error) {
	configDir, err := common.GetConfigDir()
	if err != nil {
		return nil, err
	}
	return newStoreAt(filepath.Join(configDir, common.CredentialsFileName), probeSystemKeyring())
}

func probeSystemKeyring() bool {
	testKey := serviceName + "-test-init"
	if err := keyring.Set(serviceName, testKey, "test"); err != nil {
		return false
	}
	keyring.Delete(serviceName, testKey)
	return true
}

func newStoreAt(localFile string, systemAvailable bool) (*Store, error) {
	s := &Store{
		useLocal:  !systemAvailable,
		localFile: localFile,
		local:     make(map[string]credential),
	}
	s.encryptionKey = deriveKey()
	if s.useLocal {
		s.loadLocal()
	}
	return s, nil
}

// deriveKey builds the local-file encryption key from machine-specific
// data. The credentials file is only readable on the machine and by the
// user that wrote it.
func deriveKey() []byte {
	hostname, _ := os.Hostname()
	secret := fmt.Sprintf("%s-%s-%s-%d", serviceName, hostname, machineID(), os.Getuid())
	salt := sha256.Sum256([]byte(serviceName + "-salt"))
	return pbkdf2.Key([]byte(secret), salt[:], pbkdf2Iterations, 32, sha256.New)
}

func machineID() string {
	data, err := os.ReadFile("/etc/machine-id")
	if err == nil {
		return strings.TrimSpace(string(data))
	}
	return "default-machine-id"
}

// Set saves the credentials for a configuration.
func (s *Store) Set(configName, username, password string) error {
	if configName == "" {
		return fmt.Errorf("%w: configuration name cannot be empty", common.ErrCredentialStorage)
	}
	if username == "" || password == "" {
		return fmt.Errorf("%w: username and password cannot be empty", common.ErrCredentialStorage)
	}

	cred := credential{Username: username, Password: password}
	if !s.usingLocal() {
		payload, err := json.Marshal(cred)
		if err != nil {
			return common.WrapError(err, "failed to encode credential")
		}
		if err := keyring.Set(serviceName, configName, string(payload)); err == nil {
			return nil
		}
		// Keyring went away after the probe. Fall back for good.
		s.mu.Lock()
		s.useLocal = true
		s.mu.Unlock()
		s.loadLocal()
	}

	s.mu.Lock()
	s.local[configName] = cred
	s.mu.Unlock()
	return s.saveLocal()
}

// Get retrieves the credentials for a configuration.
func (s *Store) Get(configName string) (username, password string, err error) {
	if configName == "" {
		return "", "", fmt.Errorf("%w: configuration name cannot be empty", common.ErrCredentialStorage)
	}

	if !s.usingLocal() {
		payload, kerr := keyring.Get(serviceName, configName)
		if kerr == nil {
			var cred credential
			if err := json.Unmarshal([]byte(payload), &cred); err != nil {
				return "", "", common.WrapError(err, "failed to decode credential")
			}
			return cred.Username, cred.Password, nil
		}
		if errors.Is(kerr, keyring.ErrNotFound) {
			return "", "", fmt.Errorf("%w: %s", common.ErrCredentialsNotFound, configName)
		}
		// Keyring unreachable, check the local fallback.
	}

	s.mu.RLock()
	cred, exists := s.local[configName]
	s.mu.RUnlock()
	if !exists {
		return "", "", fmt.Errorf("%w: %s", common.ErrCredentialsNotFound, configName)
	}
	return cred.Username, cred.Password, nil
}

// Delete removes the credentials for a configuration. Deleting an absent
// entry is not an error.
func (s *Store) Delete(configName string) error {
	if configName == "" {
		return fmt.Errorf("%w: configuration name cannot be empty", common.ErrCredentialStorage)
	}

	useLocal := s.usingLocal()
	if !useLocal {
		keyring.Delete(serviceName, configName)
	}

	s.mu.Lock()
	_, existed := s.local[configName]
	delete(s.local, configName)
	s.mu.Unlock()
	if existed || useLocal {
		return s.saveLocal()
	}
	return nil
}

// usingLocal reports whether the encrypted-file backend is active. Set can
// flip the backend on a keyring failure, so reads go through the mutex.
func (s *Store) usingLocal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useLocal
}

// Exists reports whether credentials are stored for a configuration.
func (s *Store) Exists(configName string) bool {
	_, _, err := s.Get(configName)
	return err == nil
}

func (s *Store) loadLocal() {
	data, err := os.ReadFile(s.localFile)
	if err != nil {
		return
	}

	decrypted, err := s.decrypt(data)
	if err != nil {
		common.LogWarn("failed to decrypt credentials file, starting empty: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(decrypted, &s.local); err != nil {
		common.LogWarn("failed to parse credentials file, starting empty: %v", err)
		s.local = make(map[string]credential)
	}
}

func (s *Store) saveLocal() error {
	s.mu.RLock()
	data, err := json.Marshal(s.local)
	s.mu.RUnlock()
	if err != nil {
		return common.WrapError(err, "failed to encode credentials")
	}

	encrypted, err := s.encrypt(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(s.localFile), 0700); err != nil {
		return common.WrapError(err, "failed to create credentials directory")
	}
	if err := os.WriteFile(s.localFile, encrypted, 0600); err != nil {
		return common.WrapError(err, "failed to write credentials file")
	}
	return nil
}

func (s *Store) encrypt(plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrEncryption, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(ciphertext)), nil
}

func (s *Store) decrypt(data []byte) ([]byte, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}

	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return plaintext, nil
}
