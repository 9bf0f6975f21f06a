// Package vault implements the credential vault: encrypts connector
// credentials at rest when an encryption key is configured, otherwise
// passes them through untouched.
package vault

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nchat/core/internal/cryptocore"
	"github.com/nchat/core/internal/secstore"
)

// ErrNotFound is returned by Retrieve when no credentials are stored
// under the given integration ID.
var ErrNotFound = errors.New("vault: credentials not found")

// Credentials holds connector authentication material. When Encrypted
// is true, AccessToken (and RefreshToken, if present) carry opaque
// ciphertext rather than usable values — this is the wire-facing
// shape callers outside the vault see when a credential is exposed
// without having been decrypted under the configured key.
type Credentials struct {
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time        `json:"expiresAt,omitempty"`
	Extra        map[string]string `json:"extra,omitempty"`
	Encrypted    bool              `json:"encrypted"`
}

// Vault encrypts credentials at rest over an ISecureStorage backing,
// keyed by the active encryption key set via SetEncryptionKey. Grounded
// on internal/governance/pending_vault.go's single-mutex-guarded-map
// shape (here the map lives inside the ISecureStorage implementation)
// and quantumlife-canon-core's seal/unseal encrypt-decrypt pairing.
type Vault struct {
	mu      sync.RWMutex
	storage secstore.ISecureStorage
	key     []byte // 32-byte AES-256 key, nil if unset (pass-through)
	ids     map[string]struct{}
}

// New creates a Vault over the given secure storage backing.
func New(storage secstore.ISecureStorage) *Vault {
	return &Vault{
		storage: storage,
		ids:     make(map[string]struct{}),
	}
}

// SetEncryptionKey installs the 32-byte AES-256 key used to encrypt
// credentials going forward. Callers must call this before the first
// Store if they want at-rest encryption; changing the key between a
// Store and a Retrieve is undefined behavior per the storage contract.
func (v *Vault) SetEncryptionKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("vault: encryption key must be 32 bytes, got %d", len(key))
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.key = key
	return nil
}

// Store persists credentials under integrationID, encrypting them if
// an encryption key is set. retrieve(store(id, c)) == c holds
// regardless of whether a key is set.
func (v *Vault) Store(integrationID string, creds Credentials) error {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()

	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("vault: marshal credentials: %w", err)
	}

	var blob []byte
	if key != nil {
		ciphertext, iv, err := cryptocore.AESGCMEncrypt(key, payload, []byte(integrationID))
		if err != nil {
			return fmt.Errorf("vault: encrypt credentials: %w", err)
		}
		blob, err = json.Marshal(sealedEnvelope{Ciphertext: ciphertext, IV: iv})
		if err != nil {
			return fmt.Errorf("vault: marshal envelope: %w", err)
		}
	} else {
		blob = payload
	}

	res := v.storage.SetItem(integrationID, blob, secstore.ItemOptions{})
	if !res.Success {
		return fmt.Errorf("vault: set item %s: %s", integrationID, res.Error)
	}

	v.mu.Lock()
	v.ids[integrationID] = struct{}{}
	v.mu.Unlock()
	return nil
}

type sealedEnvelope struct {
	Ciphertext []byte `json:"ciphertext"`
	IV         []byte `json:"iv"`
}

// Retrieve returns the credentials stored under integrationID, or
// ErrNotFound if none exist.
func (v *Vault) Retrieve(integrationID string) (Credentials, error) {
	v.mu.RLock()
	key := v.key
	v.mu.RUnlock()

	res := v.storage.GetItem(integrationID, secstore.ItemOptions{})
	if !res.Success {
		if res.ErrorCode == secstore.ErrCodeItemNotFound {
			return Credentials{}, ErrNotFound
		}
		return Credentials{}, fmt.Errorf("vault: get item %s: %s", integrationID, res.Error)
	}

	var payload []byte
	if key != nil {
		var env sealedEnvelope
		if err := json.Unmarshal(res.Data, &env); err != nil {
			return Credentials{}, fmt.Errorf("vault: unmarshal envelope: %w", err)
		}
		plaintext, err := cryptocore.AESGCMDecrypt(key, env.Ciphertext, env.IV, []byte(integrationID))
		if err != nil {
			return Credentials{}, fmt.Errorf("vault: decrypt credentials: %w", err)
		}
		payload = plaintext
	} else {
		payload = res.Data
	}

	var creds Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return Credentials{}, fmt.Errorf("vault: unmarshal credentials: %w", err)
	}
	return creds, nil
}

// Remove deletes the credentials stored under integrationID, if any.
func (v *Vault) Remove(integrationID string) error {
	v.mu.Lock()
	delete(v.ids, integrationID)
	v.mu.Unlock()

	res := v.storage.RemoveItem(integrationID)
	if !res.Success && res.ErrorCode != secstore.ErrCodeItemNotFound {
		return fmt.Errorf("vault: remove item %s: %s", integrationID, res.Error)
	}
	return nil
}

// Has reports whether credentials exist for integrationID.
func (v *Vault) Has(integrationID string) bool {
	return v.storage.HasItem(integrationID)
}

// ListIDs returns every integration ID currently holding credentials.
func (v *Vault) ListIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.ids))
	for id := range v.ids {
		ids = append(ids, id)
	}
	return ids
}

// Clear removes all stored credentials.
func (v *Vault) Clear() error {
	res := v.storage.Clear()
	if !res.Success {
		return fmt.Errorf("vault: clear: %s", res.Error)
	}
	v.mu.Lock()
	v.ids = make(map[string]struct{})
	v.mu.Unlock()
	return nil
}
