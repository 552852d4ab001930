package serialisation

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/always-cache/dejavu/operation"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptionTag identifies encrypted payloads.
const EncryptionTag = "ENCRYPT"

// EncryptionDecorator seals payloads with XChaCha20-Poly1305.
// Each payload is prefixed with its random nonce.
// It applies to operations that ask for encryption.
type EncryptionDecorator struct {
	aead cipher.AEAD
}

// NewEncryptionDecorator creates a decorator for a 32-byte key.
func NewEncryptionDecorator(key []byte) (*EncryptionDecorator, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("could not create cipher: %w", err)
	}
	return &EncryptionDecorator{aead: aead}, nil
}

// KeyFromPassphrase derives an encryption key with argon2id.
func KeyFromPassphrase(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, chacha20poly1305.KeySize)
}

func (e *EncryptionDecorator) Tag() string { return EncryptionTag }

func (e *EncryptionDecorator) Applies(op operation.Cache) bool {
	return op.ShouldEncrypt()
}

func (e *EncryptionDecorator) Encode(b []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(b)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, &Error{Kind: KindEncode, Tag: EncryptionTag, Err: err}
	}
	return e.aead.Seal(nonce, nonce, b, nil), nil
}

func (e *EncryptionDecorator) Decode(b []byte) ([]byte, error) {
	if len(b) < e.aead.NonceSize() {
		return nil, newError(KindDecode, EncryptionTag, "payload shorter than nonce")
	}
	nonce, sealed := b[:e.aead.NonceSize()], b[e.aead.NonceSize():]
	out, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, &Error{Kind: KindDecode, Tag: EncryptionTag, Err: err}
	}
	return out, nil
}
