package muxer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"howett.net/plist"
)

// usbmuxd framing: a 16-byte little-endian header (total length, protocol
// version, message type, tag) followed by an XML plist payload. The daemon
// only checks the length; the other fields are echoed back.
const headerSize = 16

func writePacket(w io.Writer, payload map[string]interface{}) error {
	body, err := plist.Marshal(payload, plist.XMLFormat)
	if err != nil {
		return fmt.Errorf("failed to encode muxer request: %w", err)
	}

	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:], uint32(headerSize+len(body)))
	binary.LittleEndian.PutUint32(header[4:], 1)  // Protocol version
	binary.LittleEndian.PutUint32(header[8:], 8)  // Plist message
	binary.LittleEndian.PutUint32(header[12:], 1) // Tag

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxerUnavailable, err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxerUnavailable, err)
	}
	return nil
}

func readPacket(r io.Reader) (map[string]interface{}, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMuxerUnavailable, err)
	}

	total := binary.LittleEndian.Uint32(header[0:])
	if total < headerSize {
		return nil, fmt.Errorf("malformed muxer packet: length %d", total)
	}

	body := make([]byte, total-headerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMuxerUnavailable, err)
	}

	var response map[string]interface{}
	if _, err := plist.Unmarshal(bytes.TrimSpace(body), &response); err != nil {
		return nil, fmt.Errorf("failed to decode muxer response: %w", err)
	}
	return response, nil
}
