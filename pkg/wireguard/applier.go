package wireguard

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ErrUpstreamUnavailable is returned when the WireGuard control plane
// cannot be reached or rejects a change
var ErrUpstreamUnavailable = errors.New("wireguard control plane unavailable")

// Applier installs and removes peers on the server's WireGuard interface.
// The kernel-backed implementation requires root; tests use the fake.
type Applier interface {
	ApplyPeer(publicKey string, addr net.IP) error
	RemovePeer(publicKey string) error
	ServerPublicKey() (string, error)
	Close() error
}

// WGCtrlApplier drives the kernel WireGuard device via wgctrl
type WGCtrlApplier struct {
	client *wgctrl.Client
	iface  string
}

// NewWGCtrlApplier connects to the WireGuard control interface
func NewWGCtrlApplier(iface string) (*WGCtrlApplier, error) {
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return &WGCtrlApplier{client: client, iface: iface}, nil
}

// ApplyPeer installs or replaces a peer routing a single /128
func (a *WGCtrlApplier) ApplyPeer(publicKey string, addr net.IP) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("bad peer key: %w", err)
	}

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey:         key,
			ReplaceAllowedIPs: true,
			AllowedIPs: []net.IPNet{{
				IP:   addr,
				Mask: net.CIDRMask(128, 128),
			}},
		}},
	}
	if err := a.client.ConfigureDevice(a.iface, cfg); err != nil {
		return fmt.Errorf("%w: configure %s: %v", ErrUpstreamUnavailable, a.iface, err)
	}
	return nil
}

// RemovePeer deletes a peer from the interface
func (a *WGCtrlApplier) RemovePeer(publicKey string) error {
	key, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return fmt.Errorf("bad peer key: %w", err)
	}

	cfg := wgtypes.Config{
		Peers: []wgtypes.PeerConfig{{
			PublicKey: key,
			Remove:    true,
		}},
	}
	if err := a.client.ConfigureDevice(a.iface, cfg); err != nil {
		return fmt.Errorf("%w: configure %s: %v", ErrUpstreamUnavailable, a.iface, err)
	}
	return nil
}

// ServerPublicKey returns the interface's public key
func (a *WGCtrlApplier) ServerPublicKey() (string, error) {
	device, err := a.client.Device(a.iface)
	if err != nil {
		return "", fmt.Errorf("%w: device %s: %v", ErrUpstreamUnavailable, a.iface, err)
	}
	return device.PublicKey.String(), nil
}

// Close releases the control connection
func (a *WGCtrlApplier) Close() error {
	return a.client.Close()
}

// FakeApplier records peers in memory. Used in tests and when running
// without a WireGuard interface (development mode).
type FakeApplier struct {
	mu         sync.Mutex
	peers      map[string]net.IP
	serverKey  string
	fail       error
	failApply  error
	failRemove error
}

// NewFakeApplier creates an applier with a generated server key
func NewFakeApplier() *FakeApplier {
	key, _ := wgtypes.GeneratePrivateKey()
	return &FakeApplier{
		peers:     make(map[string]net.IP),
		serverKey: key.PublicKey().String(),
	}
}

// FailWith makes all subsequent calls return err. Pass nil to heal.
func (a *FakeApplier) FailWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail = err
}

// FailApplyWith makes only ApplyPeer fail. Pass nil to heal.
func (a *FakeApplier) FailApplyWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failApply = err
}

// FailRemoveWith makes only RemovePeer fail. Pass nil to heal.
func (a *FakeApplier) FailRemoveWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failRemove = err
}

func (a *FakeApplier) ApplyPeer(publicKey string, addr net.IP) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	if a.failApply != nil {
		return a.failApply
	}
	a.peers[publicKey] = addr
	return nil
}

func (a *FakeApplier) RemovePeer(publicKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return a.fail
	}
	if a.failRemove != nil {
		return a.failRemove
	}
	delete(a.peers, publicKey)
	return nil
}

func (a *FakeApplier) ServerPublicKey() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return "", a.fail
	}
	return a.serverKey, nil
}

func (a *FakeApplier) Close() error { return nil }

// PeerCount returns the number of installed peers
func (a *FakeApplier) PeerCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.peers)
}

// HasPeer reports whether a peer with the given key is installed
func (a *FakeApplier) HasPeer(publicKey string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.peers[publicKey]
	return ok
}
