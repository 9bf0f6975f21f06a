package cryptocore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEADRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("session establishment payload")
	aad := []byte("context-binding")

	ciphertext, iv, err := AESGCMEncrypt(key, plaintext, aad)
	require.NoError(t, err)

	got, err := AESGCMDecrypt(key, ciphertext, iv, aad)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEADRoundTrip_ZeroLengthPlaintext(t *testing.T) {
	key := make([]byte, 32)
	ciphertext, iv, err := AESGCMEncrypt(key, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, ciphertext, "zero-length plaintext still carries the tag")

	got, err := AESGCMDecrypt(key, ciphertext, iv, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAEADTamperDetection(t *testing.T) {
	key := make([]byte, 32)
	plaintext := []byte("do not tamper")
	aad := []byte("aad")

	ciphertext, iv, err := AESGCMEncrypt(key, plaintext, aad)
	require.NoError(t, err)

	t.Run("flipped ciphertext byte", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[0] ^= 0x01
		_, err := AESGCMDecrypt(key, tampered, iv, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped tag byte", func(t *testing.T) {
		tampered := append([]byte(nil), ciphertext...)
		tampered[len(tampered)-1] ^= 0x01
		_, err := AESGCMDecrypt(key, tampered, iv, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped iv byte", func(t *testing.T) {
		tamperedIV := append([]byte(nil), iv...)
		tamperedIV[0] ^= 0x01
		_, err := AESGCMDecrypt(key, ciphertext, tamperedIV, aad)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped aad", func(t *testing.T) {
		_, err := AESGCMDecrypt(key, ciphertext, iv, []byte("different-aad"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestAESGCMEncrypt_RejectsWrongKeyLength(t *testing.T) {
	_, _, err := AESGCMEncrypt(make([]byte, 16), []byte("x"), nil)
	assert.ErrorIs(t, err, ErrEncryptionFailed)
}

func TestECDHAgreementSymmetry(t *testing.T) {
	a, err := GenerateKEMKeyPair()
	require.NoError(t, err)
	b, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	secretA, err := Agree(a.KEMPrivate(), b.PublicKey)
	require.NoError(t, err)
	secretB, err := Agree(b.KEMPrivate(), a.PublicKey)
	require.NoError(t, err)

	assert.Equal(t, secretA, secretB)
}

func TestAgree_InvalidPeerKey(t *testing.T) {
	a, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	_, err = Agree(a.KEMPrivate(), []byte("not-a-point"))
	assert.ErrorIs(t, err, ErrInvalidPeerKey)
}

func TestHKDFDeterminism(t *testing.T) {
	ikm := []byte("input key material")
	salt := []byte("salt")
	info := []byte("info")

	out1, err := HKDF(ikm, salt, info, 48)
	require.NoError(t, err)
	out2, err := HKDF(ikm, salt, info, 48)
	require.NoError(t, err)

	assert.Equal(t, out1, out2)
	assert.Len(t, out1, 48)
}

func TestHKDF_RejectsOutOfRangeLength(t *testing.T) {
	_, err := HKDF([]byte("ikm"), nil, nil, 0)
	assert.Error(t, err)
	_, err = HKDF([]byte("ikm"), nil, nil, 255*32+1)
	assert.Error(t, err)
}

func TestDeriveRootAndChain(t *testing.T) {
	a, err := GenerateKEMKeyPair()
	require.NoError(t, err)
	b, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	shared, err := Agree(a.KEMPrivate(), b.PublicKey)
	require.NoError(t, err)

	root, chain, err := DeriveRootAndChain(shared)
	require.NoError(t, err)
	assert.NotEqual(t, root, chain)

	root2, chain2, err := DeriveRootAndChain(shared)
	require.NoError(t, err)
	assert.Equal(t, root, root2)
	assert.Equal(t, chain, chain2)
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateSigKeyPair()
	require.NoError(t, err)

	data := []byte("message to authenticate")
	sig, err := Sign(kp.SigPrivate(), data)
	require.NoError(t, err)

	valid, err := Verify(kp.PublicKey, data, sig)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = Verify(kp.PublicKey, []byte("tampered"), sig)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestHMACVerify(t *testing.T) {
	key := []byte("hmac-key")
	data := []byte("data to authenticate")

	tag := HMACSHA256(key, data)
	assert.True(t, VerifyHMAC(key, data, tag[:]))
	assert.False(t, VerifyHMAC(key, []byte("different data"), tag[:]))
}

func TestFingerprintStability(t *testing.T) {
	kp, err := GenerateSigKeyPair()
	require.NoError(t, err)

	fp := ComputeFingerprint(kp.PublicKey)
	formatted1 := fp.Format()
	formatted2 := fp.Format()

	assert.Equal(t, formatted1, formatted2)
	assert.Contains(t, formatted1, " ")
}

func TestZeroize(t *testing.T) {
	kp, err := GenerateKEMKeyPair()
	require.NoError(t, err)

	kp.Zeroize()
	assert.Nil(t, kp.KEMPrivate())
	for _, b := range kp.PublicKey {
		assert.Equal(t, byte(0), b)
	}
}
