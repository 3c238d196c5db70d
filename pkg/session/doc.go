/*
Package session tracks activation attempts through their lifecycle.

The manager is the single owner of session state. Its core guarantee: at most
one non-terminal session per device at any instant, under arbitrary request
interleavings. Concurrent requests for the same device serialize at Admit and
coalesce onto the existing session's completion channel; every attached
caller observes the same single outcome exactly once.

A device whose previous session finished inside the cooldown window gets
ErrTooSoon instead of a new session. Rapid re-activation is almost always a
client bug, and the rejection protects both the device and pool capacity.

Terminal sessions stay queryable for the retention window so clients can
poll results and retries stay idempotent, then a background sweep removes
them. Nothing here persists; a restart starts with an empty table.
*/
package session
