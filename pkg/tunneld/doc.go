/*
Package tunneld is a thin client for the local tunnel daemon's HTTP API.

Workers use it to confirm a device's secure tunnel is up before driving the
debug protocol; the daemon itself only probes it for /healthz.
*/
package tunneld
