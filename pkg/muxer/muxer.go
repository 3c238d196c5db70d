package muxer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jitbridge/jitbridge/pkg/log"
)

// ErrMuxerUnavailable is returned when the muxer socket cannot be reached
var ErrMuxerUnavailable = errors.New("muxer daemon unavailable")

const (
	// DefaultSocketPath is where netmuxd/usbmuxd listens
	DefaultSocketPath = "/var/run/usbmuxd"

	serviceName     = "apple-mobdev2"
	serviceProtocol = "tcp"
)

// Client talks the usbmuxd plist protocol to the device-multiplexing daemon.
// The orchestrator uses it to announce a device's network presence after
// provisioning; workers discover transport sockets through the same daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a muxer client for the given unix socket
func NewClient(socketPath string) *Client {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	return &Client{socketPath: socketPath, timeout: 5 * time.Second}
}

// AddDevice announces a network device to the muxer
func (c *Client) AddDevice(ctx context.Context, addr net.IP, udid string) error {
	request := map[string]interface{}{
		"MessageType":    "AddDevice",
		"ConnectionType": "Network",
		"ServiceName":    fmt.Sprintf("_%s._%s.local", serviceName, serviceProtocol),
		"IPAddress":      addr.String(),
		"DeviceID":       udid,
	}

	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return err
	}
	if result, ok := response["Result"].(uint64); !ok || result != 1 {
		return fmt.Errorf("muxer refused device %s: %v", udid, response["Result"])
	}

	logger := log.WithComponent("muxer")
	logger.Debug().Str("udid", udid).Str("address", addr.String()).
		Msg("device announced to muxer")
	return nil
}

// RemoveDevice withdraws a device from the muxer. Best-effort: the daemon
// sends no reply for removals.
func (c *Client) RemoveDevice(ctx context.Context, udid string) error {
	request := map[string]interface{}{
		"MessageType": "RemoveDevice",
		"DeviceID":    udid,
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return writePacket(conn, request)
}

// ListDevices returns the UDIDs the muxer currently exposes
func (c *Client) ListDevices(ctx context.Context) ([]string, error) {
	request := map[string]interface{}{
		"MessageType": "ListDevices",
	}

	response, err := c.roundTrip(ctx, request)
	if err != nil {
		return nil, err
	}

	list, ok := response["DeviceList"].([]interface{})
	if !ok {
		return nil, fmt.Errorf("malformed device list from muxer")
	}

	var udids []string
	for _, item := range list {
		device, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		props, ok := device["Properties"].(map[string]interface{})
		if !ok {
			continue
		}
		if serial, ok := props["SerialNumber"].(string); ok {
			udids = append(udids, serial)
		}
	}
	return udids, nil
}

// Reachable reports whether the muxer socket accepts connections
func (c *Client) Reachable(ctx context.Context) bool {
	conn, err := c.dial(ctx)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMuxerUnavailable, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.timeout))
	}
	return conn, nil
}

func (c *Client) roundTrip(ctx context.Context, request map[string]interface{}) (map[string]interface{}, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writePacket(conn, request); err != nil {
		return nil, err
	}
	return readPacket(conn)
}
