package cryptocore

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// maxHKDFOutput is the RFC 5869 bound of 255 * HashLen for SHA-256.
const maxHKDFOutput = 255 * sha256.Size

// rootKeyInfo is the fixed HKDF info string for DeriveRootAndChain.
// The exact bytes are an implementation choice but must stay stable:
// changing them invalidates every previously derived session.
var rootKeyInfo = []byte("NCHAT_ROOT_KEY")

// HKDF derives L bytes from ikm/salt/info per RFC 5869 using SHA-256.
// L is capped at 255*32 bytes, matching the RFC's hash-length bound.
func HKDF(ikm, salt, info []byte, l int) ([]byte, error) {
	if l <= 0 || l > maxHKDFOutput {
		return nil, fmt.Errorf("cryptocore: hkdf output length %d out of range (1..%d)", l, maxHKDFOutput)
	}
	reader := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, l)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("cryptocore: hkdf expand: %w", err)
	}
	return out, nil
}

// DeriveRootAndChain derives a 32-byte root key and a 32-byte chain key
// from an ECDH shared secret, using a zero salt and the fixed
// NCHAT_ROOT_KEY info string.
func DeriveRootAndChain(shared [32]byte) (rootKey [32]byte, chainKey [32]byte, err error) {
	salt := make([]byte, 32)
	out, err := HKDF(shared[:], salt, rootKeyInfo, 64)
	if err != nil {
		return rootKey, chainKey, err
	}
	copy(rootKey[:], out[:32])
	copy(chainKey[:], out[32:])
	return rootKey, chainKey, nil
}
