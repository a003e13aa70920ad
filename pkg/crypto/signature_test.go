package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignAndVerify(t *testing.T) {
	s, err := NewSigner("topsecret")
	require.NoError(t, err)

	body := []byte(`{"event":"anomaly.detected"}`)
	sig := s.Sign(body)

	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.True(t, s.Verify(body, sig))
	assert.False(t, s.Verify([]byte(`{"event":"other"}`), sig))
	assert.False(t, s.Verify(body, "sha256=zz"))
	assert.False(t, s.Verify(body, sig[len("sha256="):]))

	other, err := NewSigner("different")
	require.NoError(t, err)
	assert.False(t, other.Verify(body, sig))
}

func TestNewSigner_RejectsEmptySecret(t *testing.T) {
	_, err := NewSigner("")
	assert.Error(t, err)
}
