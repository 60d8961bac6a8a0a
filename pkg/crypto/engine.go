// Package crypto implements bdgt's envelope encryption stack: an
// asymmetric-wrapped symmetric data key used for AEAD field encryption,
// plus a password-derived key used for the sync envelope. See
// SPEC_FULL.md §4.2.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bdgt-sh/bdgt/pkg/secretbuf"
	"github.com/bdgt-sh/bdgt/pkg/types"
	"golang.org/x/crypto/scrypt"
)

// symmetricKeyLength is the AES-256-GCM key size in bytes.
const symmetricKeyLength = 32

// nonceLength is the AES-GCM nonce size in bytes (96 bits).
const nonceLength = 12

// envelopeFile is the name of the encrypted data-key file under an
// engine's location directory.
const envelopeFile = "symm"

type engineState int32

const (
	stateNew engineState = iota
	stateKeyVerified
	stateSymmetricMaterialized
	stateOperational
)

// Engine is bdgt's CryptoEngine: it owns lookup of the user's
// asymmetric key, the envelope around the symmetric data key, and every
// AEAD operation performed with that data key.
type Engine struct {
	provider AsymmetricProvider

	state atomic.Int32

	mu             sync.Mutex
	symmCiphertext []byte
	symmPlain      *secretbuf.SecretBuffer // cached exactly once, lazily
}

// NewDummy returns an Engine usable only for identity queries such as
// SymmetricKeyLength; Encrypt/Decrypt on it always fail with
// ErrInvalidEngineState.
func NewDummy() *Engine {
	e := &Engine{}
	e.state.Store(int32(stateNew))
	return e
}

// New returns an Engine backed by provider, in state New.
func New(provider AsymmetricProvider) *Engine {
	e := &Engine{provider: provider}
	e.state.Store(int32(stateNew))
	return e
}

// SymmetricKeyLength is the AEAD key size in bytes.
func (e *Engine) SymmetricKeyLength() int {
	return symmetricKeyLength
}

// LookupKey resolves id via the provider and checks that it is usable
// for encryption, per spec.md §4.2's lookup_key contract.
func (e *Engine) LookupKey(id KeyIdentifier) (KeyHandle, error) {
	if !e.provider.HasPrivate(id) {
		return KeyHandle{}, fmt.Errorf("lookup key %q: %w", id, types.ErrMissingSecretKey)
	}
	handle, err := e.provider.Lookup(id)
	if err != nil {
		return KeyHandle{}, fmt.Errorf("lookup key %q: %w", id, err)
	}
	if !e.provider.IsUsable(handle) {
		return KeyHandle{}, fmt.Errorf("key %q: %w", id, types.ErrKeyUnsuitable)
	}
	e.state.Store(int32(stateKeyVerified))
	return handle, nil
}

// Create initializes a fresh envelope at location: it verifies key,
// generates a random symmetric data key, wraps it asymmetrically under
// key, and writes the ciphertext to <location>/symm.
func (e *Engine) Create(location string, key KeyHandle) error {
	if !e.provider.IsUsable(key) {
		return fmt.Errorf("create envelope: %w", types.ErrKeyUnsuitable)
	}
	e.state.Store(int32(stateKeyVerified))

	raw := make([]byte, symmetricKeyLength)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return fmt.Errorf("generate data key: %w", err)
	}

	ciphertext, err := e.provider.EncryptTo(key, raw)
	if err != nil {
		return fmt.Errorf("wrap data key: %w", err)
	}

	if err := os.MkdirAll(location, 0o700); err != nil {
		return fmt.Errorf("create envelope dir: %w: %w", err, types.ErrIO)
	}
	if err := os.WriteFile(filepath.Join(location, envelopeFile), ciphertext, 0o600); err != nil {
		return fmt.Errorf("write envelope: %w: %w", err, types.ErrIO)
	}

	e.mu.Lock()
	e.symmCiphertext = ciphertext
	e.symmPlain = secretbuf.FromBytes(raw)
	e.mu.Unlock()
	zeroBytes(raw)

	e.state.Store(int32(stateOperational))
	return nil
}

// Open reads an existing envelope's ciphertext from location. Decryption
// of the symmetric key is deferred to the first Encrypt/Decrypt call.
func (e *Engine) Open(location string) error {
	data, err := os.ReadFile(filepath.Join(location, envelopeFile))
	if err != nil {
		return fmt.Errorf("read envelope: %w: %w", err, types.ErrIO)
	}
	e.mu.Lock()
	e.symmCiphertext = data
	e.mu.Unlock()
	e.state.Store(int32(stateSymmetricMaterialized))
	return nil
}

// dataKey returns the cached plaintext symmetric key, decrypting the
// envelope via key exactly once on first use.
func (e *Engine) dataKey(key KeyHandle) (*secretbuf.SecretBuffer, error) {
	st := engineState(e.state.Load())
	if st == stateNew {
		return nil, types.ErrInvalidEngineState
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.symmPlain != nil {
		return e.symmPlain, nil
	}
	if e.symmCiphertext == nil {
		return nil, types.ErrInvalidEngineState
	}

	raw, err := e.provider.Decrypt(e.symmCiphertext)
	if err != nil {
		return nil, fmt.Errorf("unwrap data key: %w", err)
	}
	e.symmPlain = secretbuf.FromBytes(raw)
	zeroBytes(raw)
	e.state.Store(int32(stateOperational))
	return e.symmPlain, nil
}

// Encrypt authenticated-encrypts plaintext under the engine's data key,
// decrypting the envelope via key on first use if necessary.
func (e *Engine) Encrypt(key KeyHandle, plaintext []byte) (*secretbuf.SecretBuffer, error) {
	dk, err := e.dataKey(key)
	if err != nil {
		return nil, err
	}
	ct, err := aeadSeal(dk.Bytes(), plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w: %w", err, types.ErrEncryption)
	}
	return secretbuf.FromOwned(ct), nil
}

// Decrypt is the inverse of Encrypt.
func (e *Engine) Decrypt(key KeyHandle, ciphertext []byte) (*secretbuf.SecretBuffer, error) {
	dk, err := e.dataKey(key)
	if err != nil {
		return nil, err
	}
	pt, err := aeadOpen(dk.Bytes(), ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w: %w", err, types.ErrDecryption)
	}
	return secretbuf.FromOwned(pt), nil
}

// EncryptSymmetric authenticated-encrypts plaintext under a
// caller-supplied raw key (used for the sync envelope, where the key is
// password-derived rather than the engine's cached data key).
func (e *Engine) EncryptSymmetric(rawKey, plaintext []byte) (*secretbuf.SecretBuffer, error) {
	if len(rawKey) != symmetricKeyLength {
		return nil, fmt.Errorf("raw key is %d bytes, want %d: %w", len(rawKey), symmetricKeyLength, types.ErrInvalidSymmetricKey)
	}
	ct, err := aeadSeal(rawKey, plaintext)
	if err != nil {
		return nil, fmt.Errorf("encrypt: %w: %w", err, types.ErrEncryption)
	}
	return secretbuf.FromOwned(ct), nil
}

// DecryptSymmetric is the inverse of EncryptSymmetric.
func (e *Engine) DecryptSymmetric(rawKey, ciphertext []byte) (*secretbuf.SecretBuffer, error) {
	if len(rawKey) != symmetricKeyLength {
		return nil, fmt.Errorf("raw key is %d bytes, want %d: %w", len(rawKey), symmetricKeyLength, types.ErrInvalidSymmetricKey)
	}
	pt, err := aeadOpen(rawKey, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w: %w", err, types.ErrDecryption)
	}
	return secretbuf.FromOwned(pt), nil
}

// scryptN, scryptR, and scryptP are golang.org/x/crypto/scrypt's own
// documented "interactive login" recommendation.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// DeriveKey derives a keyLen-byte key from password and salt using
// scrypt with bdgt's fixed recommended parameters.
func DeriveKey(password, salt []byte, keyLen int) (*secretbuf.SecretBuffer, error) {
	key, err := scrypt.Key(password, salt, scryptN, scryptR, scryptP, keyLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return secretbuf.FromOwned(key), nil
}

func aeadSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func aeadOpen(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
