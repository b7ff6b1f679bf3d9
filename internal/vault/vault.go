// Package vault encrypts exchange credentials at rest with AES-256-GCM.
//
// Ciphertext layout, base64 encoded: 12-byte nonce | 16-byte tag | sealed data.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"tradepulse/internal/config"
	"tradepulse/internal/errs"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
)

// Vault wraps the process-wide symmetric key. A Vault with a bad key is still
// constructed; every call then fails with a config error.
type Vault struct {
	aead   cipher.AEAD
	keyErr error
}

// New resolves the key from cfg. DataKey (base64) takes precedence over
// AppEncryptionKey (hex).
func New(cfg config.Vault) *Vault {
	key, err := resolveKey(cfg)
	if err != nil {
		return &Vault{keyErr: err}
	}
	return NewWithKey(key)
}

// NewWithKey builds a vault around a raw key.
func NewWithKey(key []byte) *Vault {
	if len(key) != keySize {
		return &Vault{keyErr: errs.New(errs.KindConfig,
			errs.WithMessage(fmt.Sprintf("encryption key must be %d bytes, got %d", keySize, len(key))))}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return &Vault{keyErr: errs.New(errs.KindConfig, errs.WithMessage("invalid encryption key"), errs.WithCause(err))}
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return &Vault{keyErr: errs.New(errs.KindConfig, errs.WithMessage("invalid encryption key"), errs.WithCause(err))}
	}
	return &Vault{aead: aead}
}

func resolveKey(cfg config.Vault) ([]byte, error) {
	b64 := strings.TrimSpace(cfg.DataKey)
	hx := strings.TrimSpace(cfg.AppEncryptionKey)
	switch {
	case b64 != "":
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, errs.New(errs.KindConfig, errs.WithMessage("DATA_KEY is not valid base64"), errs.WithCause(err))
		}
		return key, nil
	case hx != "":
		key, err := hex.DecodeString(hx)
		if err != nil {
			return nil, errs.New(errs.KindConfig, errs.WithMessage("APP_ENCRYPTION_KEY is not valid hex"), errs.WithCause(err))
		}
		return key, nil
	}
	return nil, errs.New(errs.KindConfig,
		errs.WithMessage("missing encryption key: set DATA_KEY (base64) or APP_ENCRYPTION_KEY (hex)"))
}

// Check reports the key configuration error, if any.
func (v *Vault) Check() error {
	return v.keyErr
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v.keyErr != nil {
		return "", v.keyErr
	}
	nonce := make([]byte, nonceSize, nonceSize+tagSize+len(plaintext))
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	// Seal appends data|tag; the stored layout puts the tag first.
	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	data, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := append(nonce, tag...)
	out = append(out, data...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered input, truncated
// input, or input sealed under another key fails with an integrity error.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	if v.keyErr != nil {
		return "", v.keyErr
	}
	buf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", errs.New(errs.KindIntegrity, errs.WithMessage("ciphertext is not valid base64"), errs.WithCause(err))
	}
	if len(buf) < nonceSize+tagSize {
		return "", errs.New(errs.KindIntegrity, errs.WithMessage("ciphertext too short"))
	}
	nonce := buf[:nonceSize]
	tag := buf[nonceSize : nonceSize+tagSize]
	data := buf[nonceSize+tagSize:]

	sealed := make([]byte, 0, len(data)+tagSize)
	sealed = append(sealed, data...)
	sealed = append(sealed, tag...)

	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errs.New(errs.KindIntegrity, errs.WithMessage("ciphertext authentication failed"), errs.WithCause(err))
	}
	return string(plain), nil
}
