// Package secretbuf holds key material and decrypted plaintexts in a
// container that guarantees the backing bytes are zeroed on release.
// No package outside secretbuf should hold a bare []byte copy of secret
// data for longer than a single call.
package secretbuf

import (
	"runtime"
	"unsafe"
)

// SecretBuffer owns a byte slice of secret material. The zero value is
// an empty, already-safe buffer.
type SecretBuffer struct {
	b        []byte
	released bool
}

// New returns an empty SecretBuffer.
func New() *SecretBuffer {
	return &SecretBuffer{}
}

// FromBytes copies src into a new SecretBuffer. The caller retains
// ownership (and responsibility for zeroing) of src.
func FromBytes(src []byte) *SecretBuffer {
	b := make([]byte, len(src))
	copy(b, src)
	return &SecretBuffer{b: b}
}

// FromOwned wraps an owned byte slice without copying. The caller must
// not retain or mutate owned after this call; the SecretBuffer now owns
// its lifetime.
func FromOwned(owned []byte) *SecretBuffer {
	return &SecretBuffer{b: owned}
}

// Zeroed returns a SecretBuffer of size n, all zero bytes.
func Zeroed(n int) *SecretBuffer {
	return &SecretBuffer{b: make([]byte, n)}
}

// DestructiveFromString moves the bytes out of *s into a new
// SecretBuffer and zeroes the source string's backing storage, leaving
// *s empty. Use this for passwords read into a string by a caller that
// has no further use for the original. *s must be a string built at run
// time: a string literal's bytes live in read-only memory, and writing
// them faults.
func DestructiveFromString(s *string) *SecretBuffer {
	b := make([]byte, len(*s))
	copy(b, *s)

	// Strings are normally immutable; this is the one place in the
	// package that deliberately breaks that guarantee, to actually
	// overwrite the caller's original backing array rather than just
	// a copy of it. Safe only because DestructiveFromString documents
	// that *s is consumed by this call.
	if len(*s) > 0 {
		raw := unsafe.Slice(unsafe.StringData(*s), len(*s))
		zero(raw)
	}
	*s = ""
	return &SecretBuffer{b: b}
}

// Bytes returns a read-only view of the buffer's contents. The returned
// slice aliases the buffer's storage and must not be retained past the
// buffer's Release.
func (sb *SecretBuffer) Bytes() []byte {
	if sb == nil {
		return nil
	}
	return sb.b
}

// Mut returns a writable view of the buffer's contents.
func (sb *SecretBuffer) Mut() []byte {
	if sb == nil {
		return nil
	}
	return sb.b
}

// Len reports the number of bytes held.
func (sb *SecretBuffer) Len() int {
	if sb == nil {
		return 0
	}
	return len(sb.b)
}

// IsEmpty reports whether the buffer holds zero bytes.
func (sb *SecretBuffer) IsEmpty() bool {
	return sb.Len() == 0
}

// Append returns a new SecretBuffer holding sb's bytes followed by
// other's bytes. Both inputs are released (zeroed) as part of the call;
// callers should treat sb and other as consumed afterward.
func Append(sb, other *SecretBuffer) *SecretBuffer {
	out := make([]byte, sb.Len()+other.Len())
	n := copy(out, sb.Bytes())
	copy(out[n:], other.Bytes())
	sb.Release()
	other.Release()
	return &SecretBuffer{b: out}
}

// Release overwrites the buffer's backing storage with zero bytes. It
// is safe to call Release more than once, and on a nil receiver.
func (sb *SecretBuffer) Release() {
	if sb == nil || sb.released {
		return
	}
	zero(sb.b)
	sb.released = true
}

// Close implements io.Closer by releasing the buffer.
func (sb *SecretBuffer) Close() error {
	sb.Release()
	return nil
}

// zero overwrites b with zero bytes in a way the compiler cannot elide:
// clear() alone is permitted to be optimized out if the compiler proves
// the slice is otherwise unused, so a runtime.KeepAlive anchors the
// write past the last real use of b.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
