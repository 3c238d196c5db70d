package storage

import (
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"

	"github.com/jitbridge/jitbridge/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketDevices = []byte("devices")
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "jitbridge.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDevices); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketDevices, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Device operations
func (s *BoltStore) CreateDevice(device *types.Device) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		data, err := json.Marshal(device)
		if err != nil {
			return err
		}
		return b.Put([]byte(device.UDID), data)
	})
}

func (s *BoltStore) GetDevice(udid string) (*types.Device, error) {
	var device types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		data := b.Get([]byte(udid))
		if data == nil {
			return fmt.Errorf("device %s: %w", udid, ErrNotFound)
		}
		return json.Unmarshal(data, &device)
	})
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (s *BoltStore) GetDeviceByAddress(addr net.IP) (*types.Device, error) {
	var found *types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		return b.ForEach(func(k, v []byte) error {
			var device types.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			if device.Address.Equal(addr) {
				found = &device
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("device at %s: %w", addr, ErrNotFound)
	}
	return found, nil
}

func (s *BoltStore) ListDevices() ([]*types.Device, error) {
	var devices []*types.Device
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		return b.ForEach(func(k, v []byte) error {
			var device types.Device
			if err := json.Unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, &device)
			return nil
		})
	})
	return devices, err
}

func (s *BoltStore) UpdateDevice(device *types.Device) error {
	return s.CreateDevice(device) // Same as create (upsert)
}

func (s *BoltStore) DeleteDevice(udid string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		return b.Delete([]byte(udid))
	})
}

func (s *BoltStore) CountDevices() (int, error) {
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDevices)
		count = b.Stats().KeyN
		return nil
	})
	return count, err
}
