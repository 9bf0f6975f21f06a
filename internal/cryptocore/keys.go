// Package cryptocore implements the end-to-end cryptographic primitives
// layer: ECDH agreement, ECDSA signatures, HKDF derivation, AES-256-GCM
// authenticated encryption, HMAC, and public-key fingerprinting.
//
// All functions are pure over byte sequences: none mutate their inputs,
// and all randomness comes from crypto/rand.
package cryptocore

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// Sentinel errors. Kept narrow and matched against with errors.Is so
// callers can branch on the error taxonomy without string comparison.
var (
	ErrInvalidKey       = errors.New("cryptocore: invalid key")
	ErrInvalidPeerKey   = errors.New("cryptocore: invalid or malformed peer public key")
	ErrEncryptionFailed = errors.New("cryptocore: encryption failed")
	ErrDecryptionFailed = errors.New("cryptocore: decryption failed")
)

// KeyPair holds a public key (raw 65-byte uncompressed EC point,
// 0x04 || X || Y) alongside algorithm-specific private key material.
type KeyPair struct {
	PublicKey []byte

	kemPriv *ecdh.PrivateKey
	sigPriv *ecdsa.PrivateKey
}

// GenerateKEMKeyPair generates an ECDH P-256 key-encapsulation keypair.
func GenerateKEMKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: kem keypair generation: %w", err)
	}
	return &KeyPair{
		PublicKey: priv.PublicKey().Bytes(),
		kemPriv:   priv,
	}, nil
}

// GenerateSigKeyPair generates an ECDSA P-256 signing keypair.
func GenerateSigKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: sig keypair generation: %w", err)
	}
	return &KeyPair{
		PublicKey: elliptic.Marshal(elliptic.P256(), priv.PublicKey.X, priv.PublicKey.Y),
		sigPriv:   priv,
	}, nil
}

// KEMPrivate exposes the ECDH private key for Agree. Returns nil for
// signature-only keypairs.
func (k *KeyPair) KEMPrivate() *ecdh.PrivateKey { return k.kemPriv }

// SigPrivate exposes the ECDSA private key for Sign. Returns nil for
// KEM-only keypairs.
func (k *KeyPair) SigPrivate() *ecdsa.PrivateKey { return k.sigPriv }

// Zeroize zeroes the public key bytes, sets the ECDSA private scalar
// to zero, and drops the keypair's references to its private keys.
// crypto/ecdh only exposes copies of its private key encoding, so the
// ECDH private scalar itself is not overwritten in memory. Go has no
// destructors, so callers must invoke this explicitly at session
// teardown.
func (k *KeyPair) Zeroize() {
	if k == nil {
		return
	}
	for i := range k.PublicKey {
		k.PublicKey[i] = 0
	}
	if k.kemPriv != nil {
		b := k.kemPriv.Bytes()
		for i := range b {
			b[i] = 0
		}
		k.kemPriv = nil
	}
	if k.sigPriv != nil {
		k.sigPriv.D.SetInt64(0)
		k.sigPriv = nil
	}
}

// Agree performs ECDH key agreement between a local private key and a
// peer's raw 65-byte uncompressed public key point, returning the
// 32-byte shared secret. Returns ErrInvalidPeerKey if the point is
// malformed or not on the P-256 curve.
func Agree(priv *ecdh.PrivateKey, peerPub []byte) ([32]byte, error) {
	var out [32]byte
	if priv == nil {
		return out, ErrInvalidKey
	}
	pub, err := ecdh.P256().NewPublicKey(peerPub)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	secret, err := priv.ECDH(pub)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	copy(out[:], secret)
	return out, nil
}

// Sign signs data with an ECDSA private key, hashing with SHA-256 and
// returning an ASN.1 DER-encoded signature.
func Sign(priv *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	hash := sha256.Sum256(data)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, hash[:])
	if err != nil {
		return nil, fmt.Errorf("cryptocore: sign: %w", err)
	}
	return sig, nil
}

// Verify checks an ECDSA signature over data against a raw 65-byte
// uncompressed public key point.
func Verify(pub []byte, data, signature []byte) (bool, error) {
	x, y := elliptic.Unmarshal(elliptic.P256(), pub)
	if x == nil {
		return false, ErrInvalidPeerKey
	}
	pubKey := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	hash := sha256.Sum256(data)
	return ecdsa.VerifyASN1(pubKey, hash[:], signature), nil
}
