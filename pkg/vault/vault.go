package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const blobPrefix = "v1:"

// Vault encrypts and decrypts provider tokens at rest with AES-256-GCM.
// The ciphertext blob self-describes its nonce and auth tag, so there is
// no external key-rotation bookkeeping.
type Vault struct {
	key []byte
}

// New creates a Vault from a 32-byte key.
func New(key string) (*Vault, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault key must be exactly 32 bytes, got %d", len(key))
	}
	return &Vault{key: []byte(key)}, nil
}

// Encrypt seals plaintext into a self-describing blob: "v1:" followed by
// base64(nonce || ciphertext || tag).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return blobPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. It also understands the legacy colon-delimited
// "salt:iv:tag:ciphertext" format from before the blob scheme. Anything
// that fails authentication or does not match either shape is returned
// unchanged and treated as pre-encryption plaintext. Decrypt never fails.
func (v *Vault) Decrypt(blob string) string {
	if strings.HasPrefix(blob, blobPrefix) {
		if plain, ok := v.decryptBlob(strings.TrimPrefix(blob, blobPrefix)); ok {
			return plain
		}
		return blob
	}
	if plain, ok := v.decryptLegacy(blob); ok {
		return plain
	}
	return blob
}

func (v *Vault) decryptBlob(encoded string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", false
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", false
	}
	if len(raw) < gcm.NonceSize() {
		return "", false
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}

// decryptLegacy handles hex "salt:iv:tag:ciphertext" blobs whose key was
// derived from the vault key with scrypt.
func (v *Vault) decryptLegacy(blob string) (string, bool) {
	parts := strings.Split(blob, ":")
	if len(parts) != 4 {
		return "", false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	iv, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", false
	}
	ciphertext, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", false
	}
	key, err := scrypt.Key(v.key, salt, 16384, 8, 1, 32)
	if err != nil {
		return "", false
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", false
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, len(iv))
	if err != nil {
		return "", false
	}
	plain, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", false
	}
	return string(plain), true
}
