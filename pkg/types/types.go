package types

import (
	"net"
	"time"
)

// Device represents a registered mobile device
type Device struct {
	UDID      string    // Stable device identifier
	Address   net.IP    // Assigned WireGuard tunnel address
	PublicKey string    // Device-side WireGuard public key
	LastSeen  time.Time // Updated on every activation request
	CreatedAt time.Time
}

// PeerConfig is the WireGuard identity issued to a device. It is derived at
// provisioning time and never stored independently of the owning Device.
type PeerConfig struct {
	UDID       string
	Address    net.IP
	PrivateKey string // Device-side private key, handed to the client once
	PublicKey  string // Device-side public key, installed on the server
	ServerKey  string // Server-side public key
	Endpoint   string // host:port the client dials
	AllowedIPs string // CIDR the client routes through the tunnel
	DNS        string
	Keepalive  int // Seconds, 0 disables persistent keepalive
}

// RegistrationMode defines whether new devices may register
type RegistrationMode string

const (
	RegistrationDisabled RegistrationMode = "disabled"
	RegistrationEnabled  RegistrationMode = "enabled"
	RegistrationCapped   RegistrationMode = "capped"
)

// RegistrationPolicy is the process-wide registration switch
type RegistrationPolicy struct {
	Mode RegistrationMode
	Cap  int // Max total devices when Mode is RegistrationCapped
}

// SessionState represents the state of an activation session
type SessionState string

const (
	SessionSubmitted  SessionState = "submitted"
	SessionDispatched SessionState = "dispatched"
	SessionSucceeded  SessionState = "succeeded"
	SessionFailed     SessionState = "failed"
	SessionTimedOut   SessionState = "timed_out"
	SessionCancelled  SessionState = "cancelled"
)

// Terminal reports whether the state admits no further transitions
func (s SessionState) Terminal() bool {
	switch s {
	case SessionSucceeded, SessionFailed, SessionTimedOut, SessionCancelled:
		return true
	}
	return false
}

// Session represents one in-flight or completed activation attempt
type Session struct {
	ID        string
	UDID      string
	State     SessionState
	Error     string // Worker error detail, verbatim, for failed sessions
	CreatedAt time.Time
	DoneAt    time.Time
}

// JobOutcome is the result of one worker job execution
type JobOutcome string

const (
	OutcomeSucceeded JobOutcome = "succeeded"
	OutcomeFailed    JobOutcome = "failed"
	OutcomeTimedOut  JobOutcome = "timed_out"
	OutcomeCancelled JobOutcome = "cancelled"
)

// JobResult carries a job's outcome back to its owning session
type JobResult struct {
	JobID    string
	UDID     string
	Outcome  JobOutcome
	Error    string // Stderr tail or exit description for failed jobs
	Duration time.Duration
}

// Job is a unit of activation work bound to exactly one session
type Job struct {
	ID        string
	SessionID string
	UDID      string
	Address   net.IP
	Timeout   time.Duration
	CreatedAt time.Time
}
