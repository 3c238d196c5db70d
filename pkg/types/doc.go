/*
Package types defines the core data structures shared across jitbridge.

Devices are the only durable records: a permanent UDID to tunnel-address
mapping plus the last-seen timestamp. Sessions and jobs are volatile; they are
rebuilt empty on restart.

Session lifecycle:

	submitted → dispatched → succeeded | failed | timed_out | cancelled

Terminal states never transition further. At most one non-terminal session
exists per UDID at any time; pkg/session enforces this.
*/
package types
