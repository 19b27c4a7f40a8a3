package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecEncodeDecode(t *testing.T) {
	codec := NewCodec("test-secret")

	tokenString := codec.Encode("alice", 1700000000)
	owner, issuedAt, sig, err := codec.Decode(tokenString)
	require.NoError(t, err)
	assert.Equal(t, "alice", owner)
	assert.Equal(t, int64(1700000000), issuedAt)
	assert.Len(t, sig, SignatureLength)
	assert.True(t, codec.VerifySignature(owner, issuedAt, sig))
}

func TestCodecDecodeMalformed(t *testing.T) {
	codec := NewCodec("test-secret")

	for _, tokenString := range []string{
		"",
		"not-a-real-token",
		"alice:1700000000",
		"alice:1700000000:abcd:extra",
		"alice:notanumber:abcdef0123456789",
	} {
		t.Run(tokenString, func(t *testing.T) {
			_, _, _, err := codec.Decode(tokenString)
			authErr, ok := AsAuthError(err)
			require.True(t, ok, "expected an auth error")
			assert.Equal(t, KindMalformed, authErr.Kind)
		})
	}
}

func TestCodecSignatureDiffersPerSecret(t *testing.T) {
	a := NewCodec("secret-a")
	b := NewCodec("secret-b")

	assert.NotEqual(t, a.Sign("alice", 1700000000), b.Sign("alice", 1700000000))
}

func TestCodecRejectsTamperedSignature(t *testing.T) {
	codec := NewCodec("test-secret")

	owner, issuedAt, sig, err := codec.Decode(codec.Encode("alice", 1700000000))
	require.NoError(t, err)

	// Flip one character of the signature.
	tampered := []byte(sig)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	assert.False(t, codec.VerifySignature(owner, issuedAt, string(tampered)))
}
