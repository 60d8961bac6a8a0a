package budget

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/bdgt-sh/bdgt/pkg/types"
)

// encodeString returns the UTF-8 byte form of s, the plaintext Engine
// encrypts.
func encodeString(s string) []byte {
	return []byte(s)
}

// decodeString decodes a decrypted field back into a string. Per
// spec.md §4.4, invalid UTF-8 is replaced rather than rejected.
func decodeString(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// encodeInt64 encodes a signed amount as 8-byte little-endian two's
// complement, per spec.md §4.4.
func encodeInt64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// decodeInt64 is the inverse of encodeInt64; any length other than 8
// bytes is Malformed.
func decodeInt64(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("amount field is %d bytes, want 8: %w", len(b), types.ErrMalformed)
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}
