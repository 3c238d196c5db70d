package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jitbridge/jitbridge/pkg/events"
	"github.com/jitbridge/jitbridge/pkg/log"
	"github.com/jitbridge/jitbridge/pkg/metrics"
	"github.com/jitbridge/jitbridge/pkg/muxer"
	"github.com/jitbridge/jitbridge/pkg/pairing"
	"github.com/jitbridge/jitbridge/pkg/registry"
	"github.com/jitbridge/jitbridge/pkg/runner"
	"github.com/jitbridge/jitbridge/pkg/session"
	"github.com/jitbridge/jitbridge/pkg/types"
	"github.com/jitbridge/jitbridge/pkg/wireguard"
)

// Config holds orchestrator settings
type Config struct {
	JobTimeout time.Duration // Per-activation deadline
	PairingDir string        // Where pairing records are stored for workers
}

// Status describes a device's most recent activation attempt
type Status struct {
	Session       types.Session
	QueuePosition int // 0 running, >0 waiting, -1 not queued
}

// Orchestrator composes the registry, provisioner, session manager and
// worker pool behind the two entry points collaborators use: RegisterDevice
// and Activate.
type Orchestrator struct {
	registry    *registry.Registry
	provisioner *wireguard.Provisioner
	sessions    *session.Manager
	pool        *runner.Pool
	broker      *events.Broker
	mux         *muxer.Client // May be nil when no muxer is configured
	cfg         Config

	mu      sync.Mutex
	handles map[string]*runner.Handle // session ID -> job handle
}

// New creates an orchestrator
func New(reg *registry.Registry, prov *wireguard.Provisioner, sessions *session.Manager, pool *runner.Pool, broker *events.Broker, mux *muxer.Client, cfg Config) *Orchestrator {
	return &Orchestrator{
		registry:    reg,
		provisioner: prov,
		sessions:    sessions,
		pool:        pool,
		broker:      broker,
		mux:         mux,
		cfg:         cfg,
		handles:     make(map[string]*runner.Handle),
	}
}

// RegisterDevice binds a new device from its pairing credential and returns
// the issued peer configuration. Re-registering a known device keeps its
// address and reissues keys.
func (o *Orchestrator) RegisterDevice(pairingBlob []byte) (*types.PeerConfig, error) {
	record, err := pairing.Parse(pairingBlob)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	if err := pairing.Store(o.cfg.PairingDir, record); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	peer, err := o.provisioner.Provision(record.UDID)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	metrics.AddressesLeased.Set(float64(o.provisioner.Pool().Leased()))
	if count, err := o.registry.Count(); err == nil {
		metrics.DevicesRegistered.Set(float64(count))
	}

	o.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventDeviceRegistered,
		Message: "device registered",
		Metadata: map[string]string{
			"udid":    record.UDID,
			"address": peer.Address.String(),
		},
	})

	// Announce the device to the muxer so workers can find its transport
	// socket once the tunnel comes up. Best effort: the muxer retries
	// discovery on its own and activation will surface a real failure.
	if o.mux != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := o.mux.AddDevice(ctx, peer.Address, record.UDID); err != nil {
				logger := log.WithComponent("orchestrator")
				logger.Warn().Err(err).
					Str("udid", record.UDID).
					Msg("muxer announce failed")
			}
		}()
	}

	return peer, nil
}

// RemoveDevice tears a device down: peer removed, address released, muxer
// withdrawn, registry record deleted. Administrative only.
func (o *Orchestrator) RemoveDevice(udid string) error {
	if err := o.provisioner.Deprovision(udid); err != nil {
		return err
	}

	if o.mux != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.mux.RemoveDevice(ctx, udid); err != nil {
			logger := log.WithComponent("orchestrator")
			logger.Warn().Err(err).Str("udid", udid).Msg("muxer withdraw failed")
		}
	}

	metrics.AddressesLeased.Set(float64(o.provisioner.Pool().Leased()))
	if count, err := o.registry.Count(); err == nil {
		metrics.DevicesRegistered.Set(float64(count))
	}

	o.broker.Publish(&events.Event{
		ID:       uuid.New().String(),
		Type:     events.EventDeviceRemoved,
		Metadata: map[string]string{"udid": udid},
	})
	return nil
}

// Activate admits an activation request for a known device and dispatches a
// worker job if a fresh session was created. It never blocks on the worker;
// the returned handle is for polling or awaiting.
func (o *Orchestrator) Activate(udid string) (*session.Handle, error) {
	device, err := o.registry.Lookup(udid)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("unknown_device").Inc()
		return nil, err
	}

	handle, coalesced, err := o.sessions.Admit(udid)
	if err != nil {
		metrics.ActivationsTotal.WithLabelValues("too_soon").Inc()
		return nil, err
	}

	// Last-seen moves only after the request was admitted
	if err := o.registry.Touch(udid); err != nil {
		logger := log.WithComponent("orchestrator")
		logger.Warn().Err(err).Str("udid", udid).Msg("failed to touch device")
	}

	if coalesced {
		metrics.ActivationsTotal.WithLabelValues("coalesced").Inc()
		o.publishSession(events.EventSessionCoalesced, handle.ID, udid)
		return handle, nil
	}

	o.publishSession(events.EventSessionAdmitted, handle.ID, udid)

	job := &types.Job{
		ID:        uuid.New().String(),
		SessionID: handle.ID,
		UDID:      udid,
		Address:   device.Address,
		Timeout:   o.cfg.JobTimeout,
		CreatedAt: time.Now(),
	}

	jobHandle, err := o.pool.Submit(job)
	if err != nil {
		// Pool is shutting down; the fresh session must not dangle
		o.sessions.Complete(handle.ID, types.OutcomeCancelled, "server shutting down")
		metrics.ActivationsTotal.WithLabelValues("cancelled").Inc()
		return nil, err
	}

	if err := o.sessions.MarkDispatched(handle.ID); err != nil {
		return nil, fmt.Errorf("failed to mark session dispatched: %w", err)
	}

	o.mu.Lock()
	o.handles[handle.ID] = jobHandle
	o.mu.Unlock()

	metrics.ActivationsTotal.WithLabelValues("dispatched").Inc()
	o.publishSession(events.EventSessionDispatched, handle.ID, udid)

	// Wire the job outcome back into the session's terminal transition.
	// Caller disconnects never cancel this; coalesced callers may still
	// be waiting.
	go o.collect(handle.ID, udid, jobHandle)

	return handle, nil
}

// Await blocks until the session reaches a terminal state or ctx ends
func (o *Orchestrator) Await(ctx context.Context, handle *session.Handle) (types.Session, error) {
	return o.sessions.Await(ctx, handle)
}

// Status reports a device's most recent session and its queue position
func (o *Orchestrator) Status(udid string) (*Status, error) {
	snap, err := o.sessions.Latest(udid)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", udid, registry.ErrNotFound)
		}
		return nil, err
	}

	position := -1
	o.mu.Lock()
	jobHandle := o.handles[snap.ID]
	o.mu.Unlock()
	if jobHandle != nil && !snap.State.Terminal() {
		position = o.pool.QueuePosition(jobHandle.JobID)
	}

	return &Status{Session: snap, QueuePosition: position}, nil
}

// collect delivers a finished job's outcome to its owning session
func (o *Orchestrator) collect(sessionID, udid string, jobHandle *runner.Handle) {
	result, _ := o.pool.Await(context.Background(), jobHandle)

	if err := o.sessions.Complete(sessionID, result.Outcome, result.Error); err != nil {
		logger := log.WithComponent("orchestrator")
		logger.Error().Err(err).
			Str("session_id", sessionID).
			Msg("failed to complete session")
	}

	o.mu.Lock()
	delete(o.handles, sessionID)
	o.mu.Unlock()

	o.updateSessionGauges()
	o.broker.Publish(&events.Event{
		ID:      uuid.New().String(),
		Type:    events.EventSessionCompleted,
		Message: string(result.Outcome),
		Metadata: map[string]string{
			"session_id": sessionID,
			"udid":       udid,
			"outcome":    string(result.Outcome),
		},
	})
}

func (o *Orchestrator) publishSession(eventType events.EventType, sessionID, udid string) {
	o.updateSessionGauges()
	o.broker.Publish(&events.Event{
		ID:   uuid.New().String(),
		Type: eventType,
		Metadata: map[string]string{
			"session_id": sessionID,
			"udid":       udid,
		},
	})
}

func (o *Orchestrator) updateSessionGauges() {
	counts := o.sessions.Counts()
	for _, state := range []types.SessionState{
		types.SessionSubmitted,
		types.SessionDispatched,
		types.SessionSucceeded,
		types.SessionFailed,
		types.SessionTimedOut,
		types.SessionCancelled,
	} {
		metrics.SessionsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
