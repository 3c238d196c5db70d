/*
Package orchestrator sequences device activation.

The flow per request: validate the device against the registry, admit or
coalesce a session, touch the registry, and for fresh sessions submit a
worker job carrying the device's UDID and tunnel address. The call returns a
handle immediately; a background collector moves the job's outcome into the
session when the worker finishes, waking every coalesced caller.

Registration is the other entry point: a pairing credential comes in, the
UDID comes out of it, the record is stored for the workers, and the
provisioner issues the WireGuard peer whose config goes back to the client.
*/
package orchestrator
