package cryptocore

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
)

// HMACSHA256 computes the HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMAC recomputes HMAC-SHA256 over data under key and compares
// it against expected using a constant-time comparison, preventing
// timing attacks on the tag.
func VerifyHMAC(key, data, expected []byte) bool {
	got := HMACSHA256(key, data)
	return hmac.Equal(got[:], expected)
}

// SHA256 hashes data with SHA-256.
func SHA256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// SHA512 hashes data with SHA-512.
func SHA512(data []byte) [64]byte {
	return sha512.Sum512(data)
}
