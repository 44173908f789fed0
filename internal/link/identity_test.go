package link

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "identity.yaml")
	store := NewIdentityStore(path)

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNoSavedIdentity)

	id := Identity{Transport: "serial", Port: "/dev/ttyACM0", VendorID: "CAFE", ProductID: "4011", SerialNumber: "E6614C3"}
	require.NoError(t, store.Save(id))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.Equal(t, "E6614C3", got.Name())

	require.NoError(t, store.Forget())
	require.NoError(t, store.Forget())
	_, err = store.Load()
	assert.ErrorIs(t, err, ErrNoSavedIdentity)
}

func TestIdentityStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("identity: [oops"), 0o644))
	_, err := NewIdentityStore(path).Load()
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSavedIdentity)
}

func TestIdentitySame(t *testing.T) {
	a := Identity{Port: "/dev/ttyACM0", SerialNumber: "A"}
	assert.True(t, a.Same(Identity{Port: "/dev/ttyACM1", SerialNumber: "A"}))
	assert.False(t, a.Same(Identity{Port: "/dev/ttyACM0", SerialNumber: "B"}))
	assert.True(t, Identity{Port: "COM3"}.Same(Identity{Port: "COM3"}))
	assert.Equal(t, "COM3", Identity{Port: "COM3"}.Name())
}
