package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/DineshKarthikP/Enhancing-Web-Application-Security-through-Safe-Client-Side-Storage-Practices/internal/misc"
)

// GenerateSalt produces a fresh random salt for key derivation.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, misc.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// DeriveSessionKey derives the session encryption key from a passphrase and
// the persisted salt. The derivation is deliberately slow (PBKDF2-HMAC-SHA256
// with misc.KeyIterations rounds) so guessing a stolen passphrase is
// expensive. The key is returned in a locked buffer and never touches
// unprotected memory afterwards.
func DeriveSessionKey(passphrase []byte, saltEnclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	saltBuffer, err := saltEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open salt enclave: %w", err)
	}
	defer saltBuffer.Destroy()

	// Copy the salt so the enclave buffer can be destroyed independently.
	saltBytes := make([]byte, len(saltBuffer.Bytes()))
	copy(saltBytes, saltBuffer.Bytes())
	defer memguard.WipeBytes(saltBytes)

	derivedKey := pbkdf2.Key(passphrase, saltBytes, misc.KeyIterations, misc.KeySize, sha256.New)

	// Protect the derived key immediately.
	protectedKey := memguard.NewBufferFromBytes(derivedKey)

	return protectedKey, nil
}

// EncryptValue encrypts a plaintext with ChaCha20-Poly1305 under the given
// key, generating a fresh random nonce per call. Ciphertext and nonce are
// returned separately; the nonce must never be reused with the same key.
func EncryptValue(plaintext, key []byte) (ciphertext, nonce []byte, err error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce = make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// DecryptValue attempts authenticated decryption. It reports ok = false on
// any integrity failure (wrong key, tampered ciphertext, corrupted nonce)
// without distinguishing the cause.
func DecryptValue(ciphertext, nonce, key []byte) ([]byte, bool) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, false
	}
	if len(nonce) != aead.NonceSize() || len(ciphertext) < aead.Overhead() {
		return nil, false
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, false
	}
	return plaintext, true
}

// EncryptWithPassphrase encrypts data using a passphrase with argon2id +
// ChaCha20-Poly1305. Used for export archives, which carry their own salt.
// Layout: salt + nonce + ciphertext.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt, err := GenerateSalt()
	if err != nil {
		return nil, err
	}

	key := argon2.IDKey([]byte(passphrase), salt,
		misc.ArchiveArgonTime, misc.ArchiveArgonMemory, misc.ArchiveArgonThreads, misc.KeySize)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, data, nil)

	result := make([]byte, 0, len(salt)+len(nonce)+len(ciphertext))
	result = append(result, salt...)
	result = append(result, nonce...)
	result = append(result, ciphertext...)

	return result, nil
}

// DecryptWithPassphrase reverses EncryptWithPassphrase.
func DecryptWithPassphrase(encryptedData []byte, passphrase string) ([]byte, error) {
	if len(encryptedData) < misc.SaltSize+chacha20poly1305.NonceSize {
		return nil, errors.New("encrypted data too short")
	}

	salt := encryptedData[:misc.SaltSize]
	nonce := encryptedData[misc.SaltSize : misc.SaltSize+chacha20poly1305.NonceSize]
	ciphertext := encryptedData[misc.SaltSize+chacha20poly1305.NonceSize:]

	key := argon2.IDKey([]byte(passphrase), salt,
		misc.ArchiveArgonTime, misc.ArchiveArgonMemory, misc.ArchiveArgonThreads, misc.KeySize)
	defer memguard.WipeBytes(key)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return plaintext, nil
}

// CalculateChecksum calculates the SHA-256 checksum of data.
func CalculateChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// IsWeakKey reports whether derived key material is degenerate: too short,
// or with so few distinct byte values (all zeros, one repeated byte) that a
// healthy derivation could not have produced it. A positive result points
// at a broken platform crypto facility, not a bad passphrase.
func IsWeakKey(key []byte) bool {
	if len(key) < misc.KeySize {
		return true
	}
	var seen [256]bool
	distinct := 0
	for _, b := range key {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	return distinct < 16
}
