/*
Package wireguard provisions tunnel identities for devices.

A device's tunnel address is permanent: it is derived from SHA-256 of the
UDID folded into the pool's ULA /64 prefix, so re-registration and server
restarts hand the same address back. Keypairs are not permanent; every
provisioning call issues a fresh one and swaps the peer on the server
interface.

Provision is allocate-and-register as one logical step. If applying the peer
or persisting the registration fails, the address lease and any installed
peer are unwound before the error is returned, so a failed request never
leaks pool capacity.

The control plane is abstracted behind Applier. WGCtrlApplier drives a kernel
WireGuard device through wgctrl and needs root; FakeApplier backs tests and
development runs without an interface.
*/
package wireguard
