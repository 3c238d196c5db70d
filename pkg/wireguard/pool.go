package wireguard

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrPoolExhausted is returned when no free tunnel address remains
var ErrPoolExhausted = errors.New("address pool exhausted")

// AddressPool hands out tunnel addresses inside a ULA prefix. Addresses are
// derived from the UDID so a device gets the same address back on
// re-registration; collisions fall back to sequential probing.
type AddressPool struct {
	mu       sync.Mutex
	prefix   net.IP // First 8 bytes used as the /64 network
	capacity int
	inUse    map[string]string // address string -> UDID
}

// NewAddressPool creates a pool over the given /64 prefix with at most
// capacity concurrent leases.
func NewAddressPool(cidr string, capacity int) (*AddressPool, error) {
	ip, network, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, fmt.Errorf("invalid pool prefix %q: %w", cidr, err)
	}
	if ones, bits := network.Mask.Size(); bits != 128 || ones > 64 {
		return nil, fmt.Errorf("pool prefix %q must be an IPv6 /64 or wider", cidr)
	}
	return &AddressPool{
		prefix:   ip.To16(),
		capacity: capacity,
		inUse:    make(map[string]string),
	}, nil
}

// AddressFor returns the deterministic address for a UDID: the pool prefix
// with the first 64 bits of SHA-256(UDID) as the interface identifier.
func (p *AddressPool) AddressFor(udid string) net.IP {
	hash := sha256.Sum256([]byte(udid))
	addr := make(net.IP, net.IPv6len)
	copy(addr, p.prefix[:8])
	copy(addr[8:], hash[:8])
	return addr
}

// Allocate reserves an address for the UDID. The deterministic address is
// preferred; if another device holds it, successive interface IDs are probed.
// The reservation must be released if the caller fails to register it.
func (p *AddressPool) Allocate(udid string) (net.IP, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inUse) >= p.capacity {
		return nil, fmt.Errorf("%d leases: %w", len(p.inUse), ErrPoolExhausted)
	}

	addr := p.AddressFor(udid)
	for i := 0; i < p.capacity; i++ {
		holder, taken := p.inUse[addr.String()]
		if !taken {
			p.inUse[addr.String()] = udid
			return addr, nil
		}
		if holder == udid {
			return addr, nil
		}
		addr = nextAddress(addr)
	}

	return nil, ErrPoolExhausted
}

// Reserve marks an address as held by a UDID without probing. Used to
// rebuild pool state from the registry on startup.
func (p *AddressPool) Reserve(udid string, addr net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse[addr.String()] = udid
}

// Release returns an address to the pool
func (p *AddressPool) Release(addr net.IP) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inUse, addr.String())
}

// Leased returns the number of addresses currently held
func (p *AddressPool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// nextAddress increments the interface identifier, wrapping inside the /64
func nextAddress(addr net.IP) net.IP {
	next := make(net.IP, net.IPv6len)
	copy(next, addr)
	id := binary.BigEndian.Uint64(next[8:])
	binary.BigEndian.PutUint64(next[8:], id+1)
	return next
}
