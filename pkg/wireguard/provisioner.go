package wireguard

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/registry"
	"github.com/jitbridge/jitbridge/pkg/types"
)

// Config holds provisioner settings
type Config struct {
	PoolCIDR   string // ULA /64 the pool allocates from
	Endpoint   string // Public host:port clients dial
	AllowedIPs string // CIDR routed through the tunnel by clients
	DNS        string
	Keepalive  int // Seconds
	MaxDevices int // Pool capacity
}

// Provisioner computes and installs WireGuard peer identities for devices.
// Provision is lookup-or-create: a known device keeps its address forever, a
// new device gets an allocation and a registry record in one logical step.
type Provisioner struct {
	registry *registry.Registry
	pool     *AddressPool
	applier  Applier
	cfg      Config
}

// NewProvisioner creates a provisioner and rebuilds the pool's lease state
// from the registry, so restarts never hand out an address twice.
func NewProvisioner(reg *registry.Registry, applier Applier, cfg Config) (*Provisioner, error) {
	pool, err := NewAddressPool(cfg.PoolCIDR, cfg.MaxDevices)
	if err != nil {
		return nil, err
	}

	devices, err := reg.List()
	if err != nil {
		return nil, fmt.Errorf("failed to restore pool state: %w", err)
	}
	for _, device := range devices {
		pool.Reserve(device.UDID, device.Address)
	}

	return &Provisioner{
		registry: reg,
		pool:     pool,
		applier:  applier,
		cfg:      cfg,
	}, nil
}

// Provision issues a peer identity for the UDID. A fresh keypair is
// generated on every call; the tunnel address is permanent per device. Any
// partial allocation is rolled back before an error surfaces, so retrying
// from scratch is always safe.
func (p *Provisioner) Provision(udid string) (*types.PeerConfig, error) {
	logger := log.WithComponent("provisioner")

	serverKey, err := p.applier.ServerPublicKey()
	if err != nil {
		return nil, err
	}

	private, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	public := private.PublicKey()

	existing, err := p.registry.Lookup(udid)
	if err != nil && !errors.Is(err, registry.ErrNotFound) {
		return nil, err
	}

	if existing != nil {
		// Known device: keep the address, swap the peer key. The new peer
		// goes in before the old one comes out, so no failure along the way
		// leaves the device without an installed peer.
		if err := p.applier.ApplyPeer(public.String(), existing.Address); err != nil {
			return nil, err
		}
		if existing.PublicKey != "" {
			if err := p.applier.RemovePeer(existing.PublicKey); err != nil {
				if removeErr := p.applier.RemovePeer(public.String()); removeErr != nil {
					logger.Warn().Err(removeErr).Str("udid", udid).Msg("failed to unwind peer after removal failure")
				}
				return nil, err
			}
		}
		if _, err := p.registry.Register(udid, existing.Address, public.String()); err != nil {
			// Put the old peer back; the registry still holds its key
			if existing.PublicKey != "" {
				if applyErr := p.applier.ApplyPeer(existing.PublicKey, existing.Address); applyErr != nil {
					logger.Warn().Err(applyErr).Str("udid", udid).Msg("failed to restore previous peer")
				}
			}
			if removeErr := p.applier.RemovePeer(public.String()); removeErr != nil {
				logger.Warn().Err(removeErr).Str("udid", udid).Msg("failed to unwind peer after registration failure")
			}
			return nil, err
		}
		logger.Info().Str("udid", udid).Str("address", existing.Address.String()).
			Msg("reissued peer for known device")
		return p.peerConfig(udid, existing.Address, private.String(), public.String(), serverKey), nil
	}

	// New device: allocate, apply, register. Each failure unwinds the
	// steps before it so nothing leaks.
	addr, err := p.pool.Allocate(udid)
	if err != nil {
		return nil, err
	}

	if err := p.applier.ApplyPeer(public.String(), addr); err != nil {
		p.pool.Release(addr)
		return nil, err
	}

	if _, err := p.registry.Register(udid, addr, public.String()); err != nil {
		p.pool.Release(addr)
		if removeErr := p.applier.RemovePeer(public.String()); removeErr != nil {
			logger.Warn().Err(removeErr).Str("udid", udid).Msg("failed to unwind peer after registration failure")
		}
		return nil, err
	}

	logger.Info().Str("udid", udid).Str("address", addr.String()).Msg("provisioned new device")
	return p.peerConfig(udid, addr, private.String(), public.String(), serverKey), nil
}

// Deprovision removes the peer and releases the address. Administrative
// companion to registry.Remove.
func (p *Provisioner) Deprovision(udid string) error {
	device, err := p.registry.Lookup(udid)
	if err != nil {
		return err
	}
	if device.PublicKey != "" {
		if err := p.applier.RemovePeer(device.PublicKey); err != nil {
			return err
		}
	}
	if err := p.registry.Remove(udid); err != nil {
		return err
	}
	p.pool.Release(device.Address)
	return nil
}

// Pool exposes the address pool for observability
func (p *Provisioner) Pool() *AddressPool {
	return p.pool
}

func (p *Provisioner) peerConfig(udid string, addr net.IP, private, public, serverKey string) *types.PeerConfig {
	return &types.PeerConfig{
		UDID:       udid,
		Address:    addr,
		PrivateKey: private,
		PublicKey:  public,
		ServerKey:  serverKey,
		Endpoint:   p.cfg.Endpoint,
		AllowedIPs: p.cfg.AllowedIPs,
		DNS:        p.cfg.DNS,
		Keepalive:  p.cfg.Keepalive,
	}
}

// RenderClientConfig renders the INI-style tunnel config handed to clients
func RenderClientConfig(cfg *types.PeerConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", cfg.PrivateKey)
	fmt.Fprintf(&b, "Address = %s/128\n", cfg.Address)
	if cfg.DNS != "" {
		fmt.Fprintf(&b, "DNS = %s\n", cfg.DNS)
	}
	fmt.Fprintf(&b, "\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", cfg.ServerKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", cfg.Endpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", cfg.AllowedIPs)
	if cfg.Keepalive > 0 {
		fmt.Fprintf(&b, "PersistentKeepalive = %d\n", cfg.Keepalive)
	}
	return b.String()
}
