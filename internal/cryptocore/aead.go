package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// nonceSize is the standard 96-bit GCM nonce.
const nonceSize = 12

// AESGCMEncrypt seals plaintext under a 32-byte AES-256 key, returning
// the ciphertext (with the 128-bit tag appended, per cipher.AEAD.Seal)
// and the random 96-bit IV used. A nil aad is treated identically to
// an empty one, matching the AEAD call's requirement that "absent" is
// encoded as zero-length.
//
// Modeled byte-for-byte on quantumlife-canon-core's
// SealedSecretStore.Encrypt: random nonce, cipher.NewGCM, Seal.
func AESGCMEncrypt(key, plaintext, aad []byte) (ciphertext, iv []byte, err error) {
	if len(key) != 32 {
		return nil, nil, fmt.Errorf("%w: key must be 32 bytes, got %d", ErrEncryptionFailed, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	iv = make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, aad)
	return ciphertext, iv, nil
}

// AESGCMDecrypt opens ciphertext (tag appended) under a 32-byte key and
// IV, returning the plaintext. Returns ErrDecryptionFailed on any tag
// mismatch or malformed input; it never returns a partial plaintext.
func AESGCMDecrypt(key, ciphertext, iv, aad []byte) ([]byte, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", ErrDecryptionFailed, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	if len(iv) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad iv length", ErrDecryptionFailed)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
