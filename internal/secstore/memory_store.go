package secstore

import (
	"sync"
	"time"

	"github.com/nchat/core/internal/cryptocore"
)

// MemoryStore is an in-memory ISecureStorage backed by software
// AES-256-GCM encryption at rest, modeled on
// quantumlife-canon-core's SealedSecretStore: the same random-nonce
// AES-GCM seal/open pair, with each item's nonce kept in its own field
// beside the ciphertext rather than prefixed to it, adapted from a
// file-per-token-hash layout to a process-lifetime map keyed by item
// key. Never logs raw values.
type MemoryStore struct {
	mu sync.RWMutex

	key   []byte // 32-byte AES-256 key, nil if not initialized
	items map[string]sealedItem
}

type sealedItem struct {
	ciphertext []byte
	iv         []byte
	createdAt  time.Time
	updatedAt  time.Time
}

// NewMemoryStore creates a MemoryStore. key must be exactly 32 bytes;
// Init must be called before use.
func NewMemoryStore(key []byte) *MemoryStore {
	return &MemoryStore{
		key:   key,
		items: make(map[string]sealedItem),
	}
}

func (m *MemoryStore) Init() Result {
	if len(m.key) != 32 {
		return fail(ErrCodeNotInitialized, "encryption key must be 32 bytes")
	}
	return ok(nil)
}

func (m *MemoryStore) GetCapabilities() Capabilities {
	return Capabilities{
		HardwareBacked:      false,
		BiometricSupported:  false,
		PersistsAcrossBoots: false,
	}
}

func (m *MemoryStore) SetItem(key string, value []byte, _ ItemOptions) Result {
	if len(m.key) != 32 {
		return fail(ErrCodeNotInitialized, "store not initialized")
	}
	ciphertext, iv, err := cryptocore.AESGCMEncrypt(m.key, value, nil)
	if err != nil {
		return fail(ErrCodeEncryptionFailed, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	existing, had := m.items[key]
	createdAt := now
	if had {
		createdAt = existing.createdAt
	}
	m.items[key] = sealedItem{
		ciphertext: ciphertext,
		iv:         iv,
		createdAt:  createdAt,
		updatedAt:  now,
	}
	return ok(nil)
}

func (m *MemoryStore) GetItem(key string, _ ItemOptions) Result {
	if len(m.key) != 32 {
		return fail(ErrCodeNotInitialized, "store not initialized")
	}
	m.mu.RLock()
	item, found := m.items[key]
	m.mu.RUnlock()
	if !found {
		return fail(ErrCodeItemNotFound, "no item for key "+key)
	}
	plaintext, err := cryptocore.AESGCMDecrypt(m.key, item.ciphertext, item.iv, nil)
	if err != nil {
		return fail(ErrCodeDecryptionFailed, err.Error())
	}
	return ok(plaintext)
}

func (m *MemoryStore) HasItem(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := m.items[key]
	return found
}

func (m *MemoryStore) RemoveItem(key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, found := m.items[key]; !found {
		return fail(ErrCodeItemNotFound, "no item for key "+key)
	}
	delete(m.items, key)
	return ok(nil)
}

func (m *MemoryStore) GetAllKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.items))
	for k := range m.items {
		keys = append(keys, k)
	}
	return keys
}

func (m *MemoryStore) Clear() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]sealedItem)
	return ok(nil)
}

func (m *MemoryStore) GetItemMeta(key string) (ItemMeta, Result) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, found := m.items[key]
	if !found {
		return ItemMeta{}, fail(ErrCodeItemNotFound, "no item for key "+key)
	}
	return ItemMeta{CreatedAt: item.createdAt, UpdatedAt: item.updatedAt}, ok(nil)
}

// IsBiometricAvailable always reports false: biometric authentication
// is a platform-specific keychain bridge, explicitly out of scope —
// modeled here as a capability-negative stub.
func (m *MemoryStore) IsBiometricAvailable() bool {
	return false
}

func (m *MemoryStore) AuthenticateBiometric(_ string) Result {
	return fail(ErrCodeBiometricNotAvailable, "biometric authentication not available on this backend")
}
