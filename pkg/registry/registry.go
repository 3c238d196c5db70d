package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/storage"
	"github.com/jitbridge/jitbridge/pkg/types"
)

var (
	// ErrNotFound is returned when a device is not registered
	ErrNotFound = errors.New("device not found")

	// ErrAlreadyRegistered is returned when a UDID is registered with a
	// different address, or an address is held by a different UDID
	ErrAlreadyRegistered = errors.New("device already registered")

	// ErrRegistrationDisabled is returned when policy rejects new devices
	ErrRegistrationDisabled = errors.New("registration disabled")

	// ErrDeviceCapReached is returned when the capped policy is full
	ErrDeviceCapReached = errors.New("device cap reached")
)

// Registry is the durable mapping from UDID to tunnel address.
// All mutations hit the store before returning, so a successful call
// survives a crash.
type Registry struct {
	store  storage.Store
	mu     sync.Mutex // Serializes register/policy decisions
	policy types.RegistrationPolicy
}

// NewRegistry creates a registry backed by the given store. The default
// policy is unlimited registration.
func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		store:  store,
		policy: types.RegistrationPolicy{Mode: types.RegistrationEnabled},
	}
}

// SetPolicy replaces the process-wide registration policy
func (r *Registry) SetPolicy(policy types.RegistrationPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Policy returns the current registration policy
func (r *Registry) Policy() types.RegistrationPolicy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.policy
}

// Lookup returns the device for a UDID, or ErrNotFound
func (r *Registry) Lookup(udid string) (*types.Device, error) {
	device, err := r.store.GetDevice(udid)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", udid, ErrNotFound)
		}
		return nil, err
	}
	return device, nil
}

// Register binds a UDID to a tunnel address. Calling it again with the same
// pair is idempotent and refreshes the device key; a different address for a
// known UDID, or a known address under a different UDID, fails with
// ErrAlreadyRegistered. New registrations are gated by the policy.
func (r *Registry) Register(udid string, addr net.IP, publicKey string) (*types.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.store.GetDevice(udid)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		if !existing.Address.Equal(addr) {
			return nil, fmt.Errorf("%s has address %s: %w", udid, existing.Address, ErrAlreadyRegistered)
		}
		// Idempotent re-registration keeps the address, refreshes the key
		existing.PublicKey = publicKey
		existing.LastSeen = time.Now()
		if err := r.store.UpdateDevice(existing); err != nil {
			return nil, fmt.Errorf("failed to update device: %w", err)
		}
		return existing, nil
	}

	// Addresses are never reused across identifiers
	if holder, err := r.store.GetDeviceByAddress(addr); err == nil {
		return nil, fmt.Errorf("address %s held by %s: %w", addr, holder.UDID, ErrAlreadyRegistered)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	if err := r.admit(); err != nil {
		return nil, err
	}

	device := &types.Device{
		UDID:      udid,
		Address:   addr,
		PublicKey: publicKey,
		LastSeen:  time.Now(),
		CreatedAt: time.Now(),
	}
	if err := r.store.CreateDevice(device); err != nil {
		return nil, fmt.Errorf("failed to persist device: %w", err)
	}

	logger := log.WithComponent("registry")
	logger.Info().
		Str("udid", udid).
		Str("address", addr.String()).
		Msg("device registered")

	return device, nil
}

// Touch updates a device's last-seen timestamp. It holds r.mu so the
// read-modify-write cannot clobber a concurrent Register's key refresh.
func (r *Registry) Touch(udid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, err := r.Lookup(udid)
	if err != nil {
		return err
	}
	device.LastSeen = time.Now()
	return r.store.UpdateDevice(device)
}

// List returns all registered devices
func (r *Registry) List() ([]*types.Device, error) {
	return r.store.ListDevices()
}

// Remove deletes a device record. Administrative use only; devices are
// never removed automatically.
func (r *Registry) Remove(udid string) error {
	if _, err := r.Lookup(udid); err != nil {
		return err
	}
	return r.store.DeleteDevice(udid)
}

// Count returns the number of registered devices
func (r *Registry) Count() (int, error) {
	return r.store.CountDevices()
}

// admit applies the registration policy to a brand-new device.
// Caller holds r.mu.
func (r *Registry) admit() error {
	switch r.policy.Mode {
	case types.RegistrationDisabled:
		return ErrRegistrationDisabled
	case types.RegistrationCapped:
		count, err := r.store.CountDevices()
		if err != nil {
			return err
		}
		if count >= r.policy.Cap {
			return fmt.Errorf("cap %d: %w", r.policy.Cap, ErrDeviceCapReached)
		}
	}
	return nil
}
