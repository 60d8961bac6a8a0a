package secretbuf_test

import (
	"testing"

	"github.com/bdgt-sh/bdgt/pkg/secretbuf"
	"github.com/stretchr/testify/require"
)

func TestReleaseZeroesStorage(t *testing.T) {
	sb := secretbuf.FromBytes([]byte{1, 2, 3, 4})
	view := sb.Bytes()
	sb.Release()
	for _, b := range view {
		require.Equal(t, byte(0), b)
	}
}

func TestAppendConcatenatesAndReleasesInputs(t *testing.T) {
	a := secretbuf.FromBytes([]byte("foo"))
	b := secretbuf.FromBytes([]byte("bar"))
	out := secretbuf.Append(a, b)
	require.Equal(t, []byte("foobar"), out.Bytes())
	require.True(t, a.IsEmpty() || len(a.Bytes()) == 3) // a's bytes zeroed, not truncated
	for _, c := range a.Bytes() {
		require.Equal(t, byte(0), c)
	}
}

func TestDestructiveFromStringZeroesSource(t *testing.T) {
	s := string([]byte("hunter2")) // built at run time, so its bytes are writable
	sb := secretbuf.DestructiveFromString(&s)
	require.Equal(t, []byte("hunter2"), sb.Bytes())
	require.Equal(t, "", s)
}

func TestZeroedAndLen(t *testing.T) {
	sb := secretbuf.Zeroed(16)
	require.Equal(t, 16, sb.Len())
	for _, b := range sb.Bytes() {
		require.Equal(t, byte(0), b)
	}
}

func TestReleaseIsIdempotentAndNilSafe(t *testing.T) {
	var nilBuf *secretbuf.SecretBuffer
	nilBuf.Release() // must not panic

	sb := secretbuf.FromBytes([]byte{9})
	sb.Release()
	sb.Release()
}
