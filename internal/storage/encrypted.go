package storage

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// EncryptedDB wraps a DB and transparently seals/opens every value with
// Argon2id-derived XChaCha20-Poly1305, as a per-value wrapper any
// KVB-backed store can opt into. Keys are left
// in the clear — stores need them for prefix iteration.
type EncryptedDB struct {
	inner DB
	key   []byte
}

// EncryptionParams holds Argon2id parameters.
type EncryptionParams struct {
	Memory      uint32 // in KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultEncryptionParams returns recommended Argon2id parameters.
func DefaultEncryptionParams() EncryptionParams {
	return EncryptionParams{
		Memory:      64 * 1024, // 64 MB
		Iterations:  3,
		Parallelism: 4,
	}
}

const saltSize = 32

// headerSize is salt(32) | memory(4) | iterations(4) | parallelism(1).
const headerSize = saltSize + 4 + 4 + 1

// NewEncryptedDB derives a master key from passphrase and wraps inner so
// every Put is sealed and every Get is opened; each value's cipher key is
// derived from the master key with a fresh salt stored alongside the
// ciphertext.
func NewEncryptedDB(inner DB, passphrase []byte, params EncryptionParams) *EncryptedDB {
	return &EncryptedDB{inner: inner, key: derivePassphrase(passphrase, params)}
}

func derivePassphrase(passphrase []byte, params EncryptionParams) []byte {
	return argon2.IDKey(passphrase, nil, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
}

func deriveValueKey(passphrase, salt []byte, params EncryptionParams) []byte {
	return argon2.IDKey(passphrase, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
}

func (e *EncryptedDB) seal(value []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	params := DefaultEncryptionParams()
	key := deriveValueKey(e.key, salt, params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, value, nil)

	out := make([]byte, 0, headerSize+len(nonce)+len(ciphertext))
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, params.Memory)
	out = binary.LittleEndian.AppendUint32(out, params.Iterations)
	out = append(out, params.Parallelism)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

func (e *EncryptedDB) open(sealed []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	minSize := headerSize + nonceSize + chacha20poly1305.Overhead
	if len(sealed) < minSize {
		return nil, fmt.Errorf("encrypted value too short: %w", ErrCorrupt)
	}

	salt := sealed[:saltSize]
	memory := binary.LittleEndian.Uint32(sealed[saltSize:])
	iterations := binary.LittleEndian.Uint32(sealed[saltSize+4:])
	parallelism := sealed[saltSize+8]
	params := EncryptionParams{Memory: memory, Iterations: iterations, Parallelism: parallelism}

	nonce := sealed[headerSize : headerSize+nonceSize]
	ciphertext := sealed[headerSize+nonceSize:]

	key := deriveValueKey(e.key, salt, params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("open encrypted value: %w", ErrCorrupt)
	}
	return plaintext, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func (e *EncryptedDB) Get(key []byte) ([]byte, error) {
	sealed, err := e.inner.Get(key)
	if err != nil {
		return nil, err
	}
	return e.open(sealed)
}

func (e *EncryptedDB) Put(key, value []byte) error {
	sealed, err := e.seal(value)
	if err != nil {
		return err
	}
	return e.inner.Put(key, sealed)
}

func (e *EncryptedDB) Delete(key []byte) error {
	return e.inner.Delete(key)
}

func (e *EncryptedDB) Has(key []byte) (bool, error) {
	return e.inner.Has(key)
}

func (e *EncryptedDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return e.inner.ForEach(prefix, func(key, sealed []byte) error {
		plaintext, err := e.open(sealed)
		if err != nil {
			return err
		}
		return fn(key, plaintext)
	})
}

func (e *EncryptedDB) Close() error {
	zero(e.key)
	return e.inner.Close()
}
