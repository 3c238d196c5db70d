package pairing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>UDID</key>
	<string>00008110-000A1D0E3A88801E</string>
	<key>HostID</key>
	<string>F0E95A5C-6B5E-4E5C-BD39-0E41E0F8A6C8</string>
	<key>SystemBUID</key>
	<string>30DC0CD1-F34F-42E3-9E1C-1F6D0C87E593</string>
	<key>WiFiMACAddress</key>
	<string>aa:bb:cc:dd:ee:ff</string>
</dict>
</plist>`

func TestParse(t *testing.T) {
	record, err := Parse([]byte(testPlist))
	require.NoError(t, err)

	assert.Equal(t, "00008110-000A1D0E3A88801E", record.UDID)
	assert.Equal(t, "F0E95A5C-6B5E-4E5C-BD39-0E41E0F8A6C8", record.HostID)
	assert.Equal(t, "30DC0CD1-F34F-42E3-9E1C-1F6D0C87E593", record.SystemBUID)
	assert.Equal(t, []byte(testPlist), record.Raw)
}

func TestParseInvalid(t *testing.T) {
	cases := map[string][]byte{
		"garbage": []byte("not a plist at all"),
		"empty":   {},
		"no udid": []byte(`<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0"><dict><key>HostID</key><string>x</string></dict></plist>`),
	}

	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(blob)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestStoreAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lockdown")

	record, err := Parse([]byte(testPlist))
	require.NoError(t, err)
	require.NoError(t, Store(dir, record))

	// Workers read raw lockdown records, so the bytes must be verbatim
	data, err := os.ReadFile(filepath.Join(dir, record.UDID+".plist"))
	require.NoError(t, err)
	assert.Equal(t, record.Raw, data)

	info, err := os.Stat(filepath.Join(dir, record.UDID+".plist"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(dir, record.UDID)
	require.NoError(t, err)
	assert.Equal(t, record.UDID, loaded.UDID)
	assert.Equal(t, record.HostID, loaded.HostID)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir(), "no-such-udid")
	assert.Error(t, err)
}
