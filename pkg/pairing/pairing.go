package pairing

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"howett.net/plist"
)

// ErrInvalid is returned for pairing blobs that do not parse or carry no UDID
var ErrInvalid = errors.New("invalid pairing record")

// Record is the subset of a lockdown pairing plist the server cares about.
// The full blob is stored verbatim for the activation workers.
type Record struct {
	UDID       string
	HostID     string
	SystemBUID string
	Raw        []byte
}

// Parse decodes a pairing plist and extracts the device identity
func Parse(data []byte) (*Record, error) {
	var dict map[string]interface{}
	if _, err := plist.Unmarshal(data, &dict); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	udid, ok := dict["UDID"].(string)
	if !ok || udid == "" {
		return nil, fmt.Errorf("%w: missing UDID", ErrInvalid)
	}

	record := &Record{UDID: udid, Raw: data}
	if hostID, ok := dict["HostID"].(string); ok {
		record.HostID = hostID
	}
	if buid, ok := dict["SystemBUID"].(string); ok {
		record.SystemBUID = buid
	}
	return record, nil
}

// Store writes the raw pairing record where the activation workers expect
// lockdown records: <dir>/<udid>.plist
func Store(dir string, record *Record) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create pairing dir: %w", err)
	}
	path := filepath.Join(dir, record.UDID+".plist")
	if err := os.WriteFile(path, record.Raw, 0600); err != nil {
		return fmt.Errorf("failed to write pairing record: %w", err)
	}
	return nil
}

// Load reads a stored pairing record for a device
func Load(dir, udid string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(dir, udid+".plist"))
	if err != nil {
		return nil, err
	}
	record, err := Parse(bytes.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	return record, nil
}
