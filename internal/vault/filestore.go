package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps all records in a single file sealed with AES-GCM.
// The whole record map is encrypted as one blob, so a reader without
// the key learns neither realms nor secrets.
type FileStore struct {
	path string
	key  [32]byte

	mu sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The sealing
// key is derived from the passphrase with SHA-256. The file and its
// parent directory are created on first write.
func NewFileStore(path, passphrase string) *FileStore {
	return &FileStore{
		path: path,
		key:  sha256.Sum256([]byte(passphrase)),
	}
}

// Get implements SecretStore.
func (s *FileStore) Get(realm string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return Record{}, false, err
	}
	rec, ok := records[realm]
	return rec, ok, nil
}

// Set implements SecretStore.
func (s *FileStore) Set(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[rec.Realm] = rec
	return s.write(records)
}

// Delete implements SecretStore. Deleting an absent realm is not an
// error.
func (s *FileStore) Delete(realm string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[realm]; !ok {
		return nil
	}
	delete(records, realm)
	return s.write(records)
}

func (s *FileStore) read() (map[string]Record, error) {
	sealed, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]Record), nil
	}
	if err != nil {
		return nil, err
	}

	gcm, err := s.aead()
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("credential file is truncated")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal credential file: %w", err)
	}

	records := make(map[string]Record)
	if err := json.Unmarshal(plain, &records); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	return records, nil
}

func (s *FileStore) write(records map[string]Record) error {
	plain, err := json.Marshal(records)
	if err != nil {
		return err
	}

	gcm, err := s.aead()
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return err
	}
	sealed := gcm.Seal(nonce, nonce, plain, nil)

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	// Write-then-rename so a crash mid-write never leaves a corrupt file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, sealed, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStore) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
