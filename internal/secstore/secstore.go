// Package secstore defines the platform-neutral secure storage
// capability interface consumed by the credential vault, and ships one
// in-memory, software-AES-GCM-encrypted implementation.
//
// Hardware-backed or OS-keychain implementations are a platform
// boundary out of scope here; they would satisfy the same
// ISecureStorage interface.
package secstore

import "time"

// ErrorCode enumerates the storage-layer error taxonomy. Operations
// never return raw platform exceptions; they map into one of these.
type ErrorCode string

const (
	ErrCodeNone                  ErrorCode = ""
	ErrCodeNotAvailable          ErrorCode = "NotAvailable"
	ErrCodeNotInitialized        ErrorCode = "NotInitialized"
	ErrCodeItemNotFound          ErrorCode = "ItemNotFound"
	ErrCodeAccessDenied          ErrorCode = "AccessDenied"
	ErrCodeBiometricFailed       ErrorCode = "BiometricFailed"
	ErrCodeBiometricCancelled    ErrorCode = "BiometricCancelled"
	ErrCodeBiometricNotAvailable ErrorCode = "BiometricNotAvailable"
	ErrCodeEncryptionFailed      ErrorCode = "EncryptionFailed"
	ErrCodeDecryptionFailed      ErrorCode = "DecryptionFailed"
	ErrCodePlatformError         ErrorCode = "PlatformError"
)

// Result is the uniform return envelope for every ISecureStorage
// operation.
type Result struct {
	Success   bool
	Data      []byte
	Error     string
	ErrorCode ErrorCode
}

func ok(data []byte) Result {
	return Result{Success: true, Data: data}
}

func fail(code ErrorCode, msg string) Result {
	return Result{Success: false, ErrorCode: code, Error: msg}
}

// ItemOptions carries per-call storage hints. Empty for the in-memory
// implementation; a hardware-backed implementation might interpret
// RequireBiometric.
type ItemOptions struct {
	RequireBiometric bool
}

// ItemMeta is metadata about a stored item, independent of its value.
type ItemMeta struct {
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Capabilities describes what a given ISecureStorage backing supports.
type Capabilities struct {
	HardwareBacked      bool
	BiometricSupported  bool
	PersistsAcrossBoots bool
}

// ISecureStorage is the capability abstraction the credential vault
// consumes. Implementations choose a backing store (hardware-backed
// where available; otherwise software-encrypted).
type ISecureStorage interface {
	Init() Result
	GetCapabilities() Capabilities
	SetItem(key string, value []byte, opts ItemOptions) Result
	GetItem(key string, opts ItemOptions) Result
	HasItem(key string) bool
	RemoveItem(key string) Result
	GetAllKeys() []string
	Clear() Result
	GetItemMeta(key string) (ItemMeta, Result)
	IsBiometricAvailable() bool
	AuthenticateBiometric(reason string) Result
}
