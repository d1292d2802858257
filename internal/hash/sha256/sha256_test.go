package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	t.Parallel()

	h := New()
	digest, err := h.Hash([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", digest)

	empty, err := h.Hash(nil)
	require.NoError(t, err)
	assert.Len(t, empty, 64)
	assert.NotEqual(t, digest, empty)
}
