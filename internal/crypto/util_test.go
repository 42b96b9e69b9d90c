package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/awnumar/memguard"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/misc"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, misc.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}
	return key
}

func TestEncryptDecryptValueRoundTrip(t *testing.T) {
	key := testKey(t)
	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("session token value"),
		bytes.Repeat([]byte{0xAB}, 64*1024),
	}

	for _, plaintext := range plaintexts {
		ciphertext, nonce, err := EncryptValue(plaintext, key)
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if bytes.Contains(ciphertext, plaintext) && len(plaintext) > 0 {
			t.Error("ciphertext contains the plaintext")
		}

		decrypted, ok := DecryptValue(ciphertext, nonce, key)
		if !ok {
			t.Fatal("decrypt reported integrity failure on untampered data")
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Errorf("round trip mismatch for %d byte plaintext", len(plaintext))
		}
	}
}

func TestEncryptValueFreshNonce(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("same input twice")

	c1, n1, err := EncryptValue(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	c2, n2, err := EncryptValue(plaintext, key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if bytes.Equal(n1, n2) {
		t.Error("nonce was reused across encryptions")
	}
	if bytes.Equal(c1, c2) {
		t.Error("identical plaintexts produced identical ciphertexts")
	}
}

func TestDecryptValueRejectsTampering(t *testing.T) {
	key := testKey(t)
	ciphertext, nonce, err := EncryptValue([]byte("integrity protected"), key)
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	flip := func(data []byte, i int) []byte {
		out := make([]byte, len(data))
		copy(out, data)
		out[i] ^= 0x01
		return out
	}

	if _, ok := DecryptValue(flip(ciphertext, 0), nonce, key); ok {
		t.Error("accepted ciphertext with flipped first byte")
	}
	if _, ok := DecryptValue(flip(ciphertext, len(ciphertext)-1), nonce, key); ok {
		t.Error("accepted ciphertext with flipped tag byte")
	}
	if _, ok := DecryptValue(ciphertext, flip(nonce, 0), key); ok {
		t.Error("accepted tampered nonce")
	}
	if _, ok := DecryptValue(ciphertext, nonce, testKey(t)); ok {
		t.Error("accepted wrong key")
	}
	if _, ok := DecryptValue(ciphertext[:4], nonce, key); ok {
		t.Error("accepted truncated ciphertext")
	}
	if _, ok := DecryptValue(ciphertext, nonce[:4], key); ok {
		t.Error("accepted truncated nonce")
	}
}

func TestDeriveSessionKeyDeterministic(t *testing.T) {
	salt, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	saltCopy := make([]byte, len(salt))
	copy(saltCopy, salt)

	passphrase := []byte("correct horse battery staple")

	k1, err := DeriveSessionKey(passphrase, memguard.NewEnclave(salt))
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer k1.Destroy()

	k2, err := DeriveSessionKey([]byte("correct horse battery staple"), memguard.NewEnclave(saltCopy))
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer k2.Destroy()

	if len(k1.Bytes()) != misc.KeySize {
		t.Errorf("derived key has %d bytes, want %d", len(k1.Bytes()), misc.KeySize)
	}
	if !bytes.Equal(k1.Bytes(), k2.Bytes()) {
		t.Error("same passphrase and salt produced different keys")
	}
}

func TestDeriveSessionKeySaltSensitive(t *testing.T) {
	passphrase := "correct horse battery staple"

	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}

	k1, err := DeriveSessionKey([]byte(passphrase), memguard.NewEnclave(s1))
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer k1.Destroy()

	k2, err := DeriveSessionKey([]byte(passphrase), memguard.NewEnclave(s2))
	if err != nil {
		t.Fatalf("derivation failed: %v", err)
	}
	defer k2.Destroy()

	if bytes.Equal(k1.Bytes(), k2.Bytes()) {
		t.Error("different salts produced the same key")
	}
}

func TestPassphraseArchiveRoundTrip(t *testing.T) {
	data := []byte("manifest: contents\nitems: []\n")

	encrypted, err := EncryptWithPassphrase(data, "archive-passphrase")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}
	if bytes.Contains(encrypted, data) {
		t.Error("archive contains the plaintext")
	}

	decrypted, err := DecryptWithPassphrase(encrypted, "archive-passphrase")
	if err != nil {
		t.Fatalf("decrypt failed: %v", err)
	}
	if !bytes.Equal(data, decrypted) {
		t.Error("archive round trip mismatch")
	}
}

func TestPassphraseArchiveWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptWithPassphrase([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("encrypt failed: %v", err)
	}

	if _, err = DecryptWithPassphrase(encrypted, "wrong"); err == nil {
		t.Error("wrong passphrase was accepted")
	}

	// Tampering with any section must fail authentication.
	for _, i := range []int{0, misc.SaltSize, len(encrypted) - 1} {
		tampered := make([]byte, len(encrypted))
		copy(tampered, encrypted)
		tampered[i] ^= 0x01
		if _, err = DecryptWithPassphrase(tampered, "right"); err == nil {
			t.Errorf("tampered archive (byte %d) was accepted", i)
		}
	}

	if _, err = DecryptWithPassphrase(encrypted[:misc.SaltSize], "right"); err == nil {
		t.Error("truncated archive was accepted")
	}
}

func TestGenerateSalt(t *testing.T) {
	s1, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}
	s2, err := GenerateSalt()
	if err != nil {
		t.Fatalf("failed to generate salt: %v", err)
	}

	if len(s1) != misc.SaltSize {
		t.Errorf("salt has %d bytes, want %d", len(s1), misc.SaltSize)
	}
	if bytes.Equal(s1, s2) {
		t.Error("two salts came out identical")
	}
}

func TestIsWeakKey(t *testing.T) {
	if !IsWeakKey(make([]byte, misc.KeySize)) {
		t.Error("all-zero key not flagged as weak")
	}
	if !IsWeakKey(bytes.Repeat([]byte{0x5A}, misc.KeySize)) {
		t.Error("repeated-byte key not flagged as weak")
	}
	if !IsWeakKey(make([]byte, misc.KeySize-1)) {
		t.Error("short key not flagged as weak")
	}
	if IsWeakKey(testKey(t)) {
		t.Error("random key flagged as weak")
	}
}
