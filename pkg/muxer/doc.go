/*
Package muxer is a client for the device-multiplexing daemon (netmuxd or
usbmuxd) over its unix socket.

The orchestrator announces a device's tunnel address here after provisioning
so the activation workers can find the device's transport socket. The
protocol is the usbmuxd plist framing; see packet.go.
*/
package muxer
