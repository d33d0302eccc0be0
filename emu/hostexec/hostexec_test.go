package hostexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortableAllocatorRoundTrip(t *testing.T) {
	var a PortableAllocator
	r, err := a.AllocExec(256)
	require.NoError(t, err)
	assert.Len(t, r.Bytes(), 256)
	assert.False(t, r.Executable())

	assert.NoError(t, a.ProtectRWtoRX(r))
	assert.NoError(t, a.FreeExec(r))
	assert.Nil(t, r.Bytes())
}

func TestPortableAllocatorRejectsNonPositiveSize(t *testing.T) {
	var a PortableAllocator
	_, err := a.AllocExec(0)
	assert.Error(t, err)
}
