package crypto

// KeyIdentifier names an asymmetric key known to an AsymmetricProvider
// (e.g. a GPG fingerprint, an age recipient string). bdgt never
// interprets the string; it is opaque and provider-specific.
type KeyIdentifier string

// KeyHandle is an opaque reference to a resolved asymmetric key,
// returned by AsymmetricProvider.Lookup and consumed by EncryptTo. Only
// the provider that produced a handle knows how to use it; bdgt's core
// never inspects Native.
type KeyHandle struct {
	ID     KeyIdentifier
	Native any
}

// NewKeyHandle lets an AsymmetricProvider implementation construct a
// handle carrying whatever provider-internal state it needs.
func NewKeyHandle(id KeyIdentifier, native any) KeyHandle {
	return KeyHandle{ID: id, Native: native}
}

// AsymmetricProvider is the capability bdgt's core consumes to reach the
// user's pre-existing keypair. The real implementation (a system
// keyring, GPG agent, etc.) lives outside this module; bdgt depends only
// on this interface. See pkg/crypto/providertest for a reference
// implementation used by this module's own tests.
type AsymmetricProvider interface {
	// Lookup resolves a key identifier to a handle. It does not by
	// itself guarantee the key is usable; callers check IsUsable.
	Lookup(id KeyIdentifier) (KeyHandle, error)

	// IsUsable reports whether handle can currently be used to
	// encrypt (not expired, revoked, or disabled).
	IsUsable(handle KeyHandle) bool

	// HasPrivate reports whether the private half of id is available
	// to this provider (required to ever decrypt the envelope).
	HasPrivate(id KeyIdentifier) bool

	// EncryptTo asymmetrically encrypts plaintext to the single
	// recipient handle. Implementations must fail the call if the
	// recipient is invalid, rather than silently degrading.
	EncryptTo(handle KeyHandle, plaintext []byte) ([]byte, error)

	// Decrypt asymmetrically decrypts ciphertext using whichever
	// private key the provider holds that matches it.
	Decrypt(ciphertext []byte) ([]byte, error)
}
