// Package providertest is a reference AsymmetricProvider implementation
// backed by crypto/rsa, used by bdgt's own tests and as a worked example
// of satisfying the crypto.AsymmetricProvider capability interface. It
// is not suitable for production use: real deployments back
// AsymmetricProvider with a system keyring or GPG agent, per
// SPEC_FULL.md §1.
package providertest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"github.com/bdgt-sh/bdgt/pkg/crypto"
)

var _ crypto.AsymmetricProvider = (*Provider)(nil)

// Provider is an in-memory keyring of RSA keypairs, keyed by
// crypto.KeyIdentifier.
type Provider struct {
	keys     map[crypto.KeyIdentifier]*rsa.PrivateKey
	disabled map[crypto.KeyIdentifier]bool
}

// New returns an empty Provider.
func New() *Provider {
	return &Provider{
		keys:     make(map[crypto.KeyIdentifier]*rsa.PrivateKey),
		disabled: make(map[crypto.KeyIdentifier]bool),
	}
}

// AddKey generates a fresh RSA-2048 keypair under id and returns it.
func (p *Provider) AddKey(id crypto.KeyIdentifier) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	p.keys[id] = key
	return key, nil
}

// Disable marks id unusable for encryption, simulating an expired or
// revoked key for KeyUnsuitable test coverage.
func (p *Provider) Disable(id crypto.KeyIdentifier) {
	p.disabled[id] = true
}

func (p *Provider) Lookup(id crypto.KeyIdentifier) (crypto.KeyHandle, error) {
	key, ok := p.keys[id]
	if !ok {
		return crypto.KeyHandle{}, fmt.Errorf("no such key: %s", id)
	}
	return crypto.NewKeyHandle(id, key), nil
}

func (p *Provider) IsUsable(handle crypto.KeyHandle) bool {
	return !p.disabled[handle.ID]
}

func (p *Provider) HasPrivate(id crypto.KeyIdentifier) bool {
	_, ok := p.keys[id]
	return ok
}

func (p *Provider) EncryptTo(handle crypto.KeyHandle, plaintext []byte) ([]byte, error) {
	key, ok := handle.Native.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("handle has no native RSA key")
	}
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, plaintext, nil)
}

func (p *Provider) Decrypt(ciphertext []byte) ([]byte, error) {
	for _, key := range p.keys {
		pt, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, key, ciphertext, nil)
		if err == nil {
			return pt, nil
		}
	}
	return nil, fmt.Errorf("no private key could decrypt ciphertext")
}
