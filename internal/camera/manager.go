package camera

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"
)

type Config struct {
	Tiers []Tier
	// RestartDelay lets the platform release the device before Restart
	// re-acquires it.
	RestartDelay time.Duration
	// SkipPermissionProbe disables the permission query before acquisition.
	SkipPermissionProbe bool
}

// Manager owns the single camera stream. All methods are safe for concurrent
// use; a generation counter discards acquisitions that finish after a newer
// Start or a Stop.
type Manager struct {
	platform     Platform
	surface      Surface
	tiers        []Tier
	restartDelay time.Duration
	probe        bool

	notifyMu  sync.Mutex
	listeners []Listener

	mu         sync.Mutex
	session    Session
	stream     Stream
	generation uint64
	closed     bool
}

func NewManager(platform Platform, surface Surface, cfg Config) *Manager {
	tiers := cfg.Tiers
	if len(tiers) == 0 {
		tiers = DefaultTiers()
	} else {
		tiers = append([]Tier(nil), tiers...)
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 300 * time.Millisecond
	}
	if surface == nil {
		surface = nopSurface{}
	}

	return &Manager{
		platform:     platform,
		surface:      surface,
		tiers:        tiers,
		restartDelay: cfg.RestartDelay,
		probe:        !cfg.SkipPermissionProbe,
		session: Session{
			State:      StateIdle,
			Tier:       -1,
			Permission: PermissionUnknown,
		},
	}
}

// AddListener registers l for session changes. Call before Start.
func (m *Manager) AddListener(l Listener) {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Start acquires a stream, trying each tier in order until one succeeds.
// A held stream is released first.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.generation++
	gen := m.generation
	prev := m.stream
	m.stream = nil
	m.session.State = StateRequesting
	m.session.ErrorKind = ""
	m.session.Message = ""
	m.session.Tier = -1
	m.session.TierName = ""
	if prev != nil {
		m.surface.Detach()
	}
	m.mu.Unlock()

	if prev != nil {
		log.Debug("Releasing previous camera stream before start")
		stopTracks(prev)
	}
	m.notify()

	if !m.platform.Supported() {
		return m.fail(gen, &Error{Kind: KindUnsupported, Err: ErrUnsupported})
	}

	if m.probe {
		perm, err := m.platform.Permission(ctx)
		if err != nil {
			log.Debug("Camera permission probe failed", "err", err)
			perm = PermissionUnknown
		}
		m.setPermission(gen, perm)
		if perm == PermissionDenied {
			return m.fail(gen, &Error{Kind: KindPermissionDenied, Err: ErrPermissionDenied})
		}
	}

	var lastErr error
	for i, tier := range m.tiers {
		if !m.current(gen) {
			return ErrSuperseded
		}
		if err := ctx.Err(); err != nil {
			lastErr = &Error{Kind: KindInterrupted, Tier: tier.Name, Err: err}
			break
		}

		log.Debug("Requesting camera", "tier", tier.String())

		stream, err := m.platform.Open(ctx, tier)
		if err == nil {
			err = m.activate(gen, i, stream)
			if err == nil {
				return nil
			}
			if errors.Is(err, ErrSuperseded) {
				return err
			}
		}

		kind := Classify(err)
		log.Warn("Camera tier failed", "tier", tier.Name, "kind", kind, "err", err)
		lastErr = &Error{Kind: kind, Tier: tier.Name, Err: err}
	}

	if lastErr == nil {
		lastErr = &Error{Kind: KindConstraints, Err: errors.New("no capture tiers configured")}
	}
	return m.fail(gen, lastErr)
}

// Stop releases the held stream and returns to idle. Stopping an idle
// manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.generation++
	prev := m.stream
	m.stream = nil
	changed := m.session.State != StateIdle
	m.session.State = StateIdle
	m.session.ErrorKind = ""
	m.session.Message = ""
	m.session.Tier = -1
	m.session.TierName = ""
	if prev != nil {
		m.surface.Detach()
	}
	m.mu.Unlock()

	if prev != nil {
		stopTracks(prev)
	}
	if changed {
		log.Info("Camera stopped")
		m.notify()
	}
}

// Restart is Stop, a short pause, then Start.
func (m *Manager) Restart(ctx context.Context) error {
	m.Stop()

	timer := time.NewTimer(m.restartDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}

	return m.Start(ctx)
}

// RequestPermission triggers the host permission prompt with a minimal
// acquisition that is released at once. The session state is left alone;
// only the recorded permission changes.
func (m *Manager) RequestPermission(ctx context.Context) (Permission, error) {
	if !m.platform.Supported() {
		return PermissionUnknown, &Error{Kind: KindUnsupported, Err: ErrUnsupported}
	}

	switch s := m.Session(); s.State {
	case StateActive:
		return PermissionGranted, nil
	case StateRequesting:
		// the acquisition in flight prompts on its own
		return s.Permission, &Error{Kind: KindDeviceBusy, Err: ErrDeviceBusy}
	}

	tier := m.tiers[len(m.tiers)-1]
	stream, err := m.platform.Open(ctx, tier)
	if err != nil {
		kind := Classify(err)
		perm := PermissionUnknown
		if kind == KindPermissionDenied || kind == KindSecurityBlocked {
			perm = PermissionDenied
		}
		m.recordPermission(perm)
		return perm, &Error{Kind: kind, Tier: tier.Name, Err: err}
	}

	stopTracks(stream)
	m.recordPermission(PermissionGranted)
	return PermissionGranted, nil
}

// Close stops the camera and rejects later starts.
func (m *Manager) Close() {
	m.Stop()

	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Manager) activate(gen uint64, idx int, stream Stream) error {
	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		log.Debug("Discarding stale camera stream", "tier", m.tiers[idx].Name)
		stopTracks(stream)
		return ErrSuperseded
	}

	if err := m.surface.Attach(stream); err != nil {
		m.mu.Unlock()
		stopTracks(stream)
		return fmt.Errorf("attach preview: %w", err)
	}

	m.stream = stream
	m.session.State = StateActive
	m.session.ErrorKind = ""
	m.session.Message = ""
	m.session.Tier = idx
	m.session.TierName = m.tiers[idx].Name
	m.session.Permission = PermissionGranted
	m.mu.Unlock()

	log.Info("Camera active", "tier", m.tiers[idx].String())
	m.notify()
	return nil
}

func (m *Manager) fail(gen uint64, err error) error {
	kind := Classify(err)

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return ErrSuperseded
	}
	m.session.State = StateFailed
	m.session.ErrorKind = kind
	m.session.Message = Remediation(kind)
	if kind == KindPermissionDenied {
		m.session.Permission = PermissionDenied
	}
	m.mu.Unlock()

	log.Error("Camera unavailable", "kind", kind, "err", err)
	m.notify()
	return err
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation && !m.closed
}

func (m *Manager) setPermission(gen uint64, perm Permission) {
	m.mu.Lock()
	if gen == m.generation {
		m.session.Permission = perm
	}
	m.mu.Unlock()
}

func (m *Manager) recordPermission(perm Permission) {
	m.mu.Lock()
	m.session.Permission = perm
	m.mu.Unlock()
	m.notify()
}

// notify delivers the latest snapshot, so listeners always end on the
// current state even when changes race.
func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()

	s := m.Session()
	for _, l := range m.listeners {
		l.CameraChanged(s)
	}
}

func stopTracks(stream Stream) {
	for _, track := range stream.Tracks() {
		if err := track.Stop(); err != nil {
			log.Warn("Failed to stop camera track", "kind", track.Kind(), "err", err)
		}
	}
}

type nopSurface struct{}

func (nopSurface) Attach(Stream) error { return nil }
func (nopSurface) Detach()             {}
