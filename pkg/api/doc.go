/*
Package api exposes the HTTP surface of the daemon.

POST /register takes a pairing plist and returns a WireGuard client config.
POST /activate/{udid} admits an activation and answers 202 immediately;
GET /status/{udid} is the matching poll endpoint. Error translation to wire
statuses (too_soon, already_registered, pool_exhausted) happens here and
nowhere else.
*/
package api
