package storage

import (
	"errors"
	"net"

	"github.com/jitbridge/jitbridge/pkg/types"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("not found")

// Store defines the interface for durable device state.
// Implemented by BoltDB-backed storage; in-flight sessions and the worker
// queue are volatile and never touch the store.
type Store interface {
	CreateDevice(device *types.Device) error
	GetDevice(udid string) (*types.Device, error)
	GetDeviceByAddress(addr net.IP) (*types.Device, error)
	ListDevices() ([]*types.Device, error)
	UpdateDevice(device *types.Device) error
	DeleteDevice(udid string) error
	CountDevices() (int, error)

	Close() error
}
