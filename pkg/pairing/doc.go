/*
Package pairing handles device pairing credentials.

A pairing record is the Apple lockdown plist proving the caller has
authorized access to a device. The server only reads the UDID out of it; the
blob itself is stored untouched in the lockdown directory where activation
workers look records up by UDID.
*/
package pairing
