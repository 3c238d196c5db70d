package registry

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jitbridge/jitbridge/pkg/storage"
	"github.com/jitbridge/jitbridge/pkg/types"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRegistry(store)
}

func TestRegisterNewDevice(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")

	device, err := reg.Register("udid-1", addr, "pubkey-1")
	require.NoError(t, err)
	assert.Equal(t, "udid-1", device.UDID)
	assert.True(t, addr.Equal(device.Address))

	got, err := reg.Lookup("udid-1")
	require.NoError(t, err)
	assert.Equal(t, "pubkey-1", got.PublicKey)
}

func TestRegisterIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")

	first, err := reg.Register("udid-1", addr, "pubkey-1")
	require.NoError(t, err)

	// Same pair again with a new key refreshes in place
	second, err := reg.Register("udid-1", addr, "pubkey-2")
	require.NoError(t, err)
	assert.True(t, first.Address.Equal(second.Address))
	assert.Equal(t, "pubkey-2", second.PublicKey)

	count, err := reg.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRegisterConflicts(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")
	other := net.ParseIP("fd42:6a69:7462::2")

	_, err := reg.Register("udid-1", addr, "pubkey-1")
	require.NoError(t, err)

	// Known UDID with a different address
	_, err = reg.Register("udid-1", other, "pubkey-1")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	// Known address under a different UDID
	_, err = reg.Register("udid-2", addr, "pubkey-2")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestRegistrationPolicy(t *testing.T) {
	reg := newTestRegistry(t)
	addr := func(i byte) net.IP {
		ip := net.ParseIP("fd42:6a69:7462::0")
		ip[15] = i
		return ip
	}

	reg.SetPolicy(types.RegistrationPolicy{Mode: types.RegistrationDisabled})
	_, err := reg.Register("udid-1", addr(1), "pk")
	assert.ErrorIs(t, err, ErrRegistrationDisabled)

	reg.SetPolicy(types.RegistrationPolicy{Mode: types.RegistrationCapped, Cap: 2})
	_, err = reg.Register("udid-1", addr(1), "pk")
	require.NoError(t, err)
	_, err = reg.Register("udid-2", addr(2), "pk")
	require.NoError(t, err)
	_, err = reg.Register("udid-3", addr(3), "pk")
	assert.ErrorIs(t, err, ErrDeviceCapReached)

	// The cap gates new devices only; re-registration still works
	_, err = reg.Register("udid-2", addr(2), "pk-rotated")
	require.NoError(t, err)

	// Policy disabled never blocks a known device either
	reg.SetPolicy(types.RegistrationPolicy{Mode: types.RegistrationDisabled})
	_, err = reg.Register("udid-1", addr(1), "pk-rotated")
	require.NoError(t, err)
}

func TestTouch(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")

	device, err := reg.Register("udid-1", addr, "pk")
	require.NoError(t, err)
	before := device.LastSeen

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, reg.Touch("udid-1"))

	got, err := reg.Lookup("udid-1")
	require.NoError(t, err)
	assert.True(t, got.LastSeen.After(before))

	assert.ErrorIs(t, reg.Touch("udid-unknown"), ErrNotFound)
}

func TestTouchDoesNotClobberConcurrentRegister(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")

	_, err := reg.Register("udid-1", addr, "pk-0")
	require.NoError(t, err)

	// Hammer Touch while re-registration rotates the key. A Touch that read
	// a stale record must not write the old key back over a newer one.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				reg.Touch("udid-1")
			}
		}
	}()

	var lastKey string
	for i := 0; i < 200; i++ {
		lastKey = fmt.Sprintf("pk-%d", i)
		_, err := reg.Register("udid-1", addr, lastKey)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()

	got, err := reg.Lookup("udid-1")
	require.NoError(t, err)
	assert.Equal(t, lastKey, got.PublicKey)
}

func TestRemove(t *testing.T) {
	reg := newTestRegistry(t)
	addr := net.ParseIP("fd42:6a69:7462::1")

	_, err := reg.Register("udid-1", addr, "pk")
	require.NoError(t, err)

	require.NoError(t, reg.Remove("udid-1"))
	_, err = reg.Lookup("udid-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, reg.Remove("udid-1"), ErrNotFound)
}
