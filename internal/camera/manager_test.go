package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStartFirstTier(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	surface := &fakeSurface{}
	m := NewManager(platform, surface, Config{})

	require.NoError(t, m.Start(context.Background()))

	s := m.Session()
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 0, s.Tier)
	assert.Equal(t, "ideal", s.TierName)
	assert.Equal(t, PermissionGranted, s.Permission)
	assert.Empty(t, s.Message)
	assert.Nil(t, s.Actions())

	assert.Len(t, platform.openedTiers(), 1)
	assert.Equal(t, 1, surface.attachCount())
}

func TestManagerFallsBackInOrder(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{
		perm: PermissionPrompt,
		results: []error{
			errors.New("ioctl(VIDIOC_S_FMT): Device or resource busy"),
			ErrConstraints,
		},
	}
	m := NewManager(platform, nil, Config{})

	require.NoError(t, m.Start(context.Background()))

	s := m.Session()
	assert.Equal(t, StateActive, s.State)
	assert.Equal(t, 2, s.Tier)
	assert.Equal(t, "facing", s.TierName)
	assert.Empty(t, s.ErrorKind)
	assert.Empty(t, s.Message)

	tiers := platform.openedTiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, []string{"ideal", "minimal", "facing"}, []string{tiers[0].Name, tiers[1].Name, tiers[2].Name})
}

func TestManagerAllTiersFailPermissionDenied(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{
		perm: PermissionUnknown,
		results: []error{
			ErrDeviceBusy,
			ErrConstraints,
			errors.New("something odd"),
			errors.New("/dev/video0: Permission denied"),
		},
	}
	listener := &recordingListener{}
	m := NewManager(platform, nil, Config{})
	m.AddListener(listener)

	err := m.Start(context.Background())
	require.Error(t, err)

	s := m.Session()
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, KindPermissionDenied, s.ErrorKind)
	assert.Contains(t, s.Message, "permission")
	assert.Equal(t, PermissionDenied, s.Permission)
	assert.True(t, s.CanRequestPermission())
	assert.Equal(t, []Action{ActionRetry, ActionRequestPermission}, s.Actions())
	assert.Equal(t, -1, s.Tier)

	assert.Len(t, platform.openedTiers(), 4)
	assert.Equal(t, StateFailed, listener.last().State)
}

func TestManagerFailureWithoutPermissionOffersRetryOnly(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{results: []error{ErrDeviceNotFound, ErrDeviceNotFound, ErrDeviceNotFound, ErrDeviceNotFound}}
	m := NewManager(platform, nil, Config{})

	require.Error(t, m.Start(context.Background()))

	s := m.Session()
	assert.Equal(t, KindDeviceNotFound, s.ErrorKind)
	assert.Equal(t, []Action{ActionRetry}, s.Actions())
	assert.False(t, s.CanRequestPermission())
}

func TestManagerStartTwiceKeepsOneStream(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	surface := &fakeSurface{}
	m := NewManager(platform, surface, Config{})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	streams := platform.openedStreams()
	require.Len(t, streams, 2)
	assert.Equal(t, 1, streams[0].stops(), "superseded stream stopped exactly once")
	assert.Equal(t, 0, streams[1].stops())
	assert.Equal(t, 1, surface.detachCount())
	assert.Equal(t, StateActive, m.Session().State)
}

func TestManagerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	listener := &recordingListener{}
	m := NewManager(platform, nil, Config{})
	m.AddListener(listener)

	m.Stop()
	assert.Zero(t, listener.count(), "stop on idle must not notify")

	require.NoError(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()

	streams := platform.openedStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].stops())
	assert.Equal(t, StateIdle, m.Session().State)
	assert.Equal(t, -1, m.Session().Tier)
}

func TestManagerUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{unsupported: true}
	m := NewManager(platform, nil, Config{})

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)

	s := m.Session()
	assert.Equal(t, StateFailed, s.State)
	assert.Equal(t, KindUnsupported, s.ErrorKind)
	assert.Equal(t, Remediation(KindUnsupported), s.Message)
	assert.Empty(t, platform.openedTiers())
}

func TestManagerPermissionProbeDeniedSkipsTiers(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionDenied}
	m := NewManager(platform, nil, Config{})

	err := m.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, platform.openedTiers())
	assert.True(t, m.Session().CanRequestPermission())
}

func TestManagerSkipPermissionProbe(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionDenied}
	m := NewManager(platform, nil, Config{SkipPermissionProbe: true})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateActive, m.Session().State)
}

func TestManagerStopDiscardsInFlightAcquisition(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	platform := &fakePlatform{perm: PermissionGranted, gates: map[int]chan struct{}{0: gate}}
	m := NewManager(platform, nil, Config{})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()

	require.Eventually(t, func() bool { return len(platform.openedTiers()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRequesting, m.Session().State)

	m.Stop()
	close(gate)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(time.Second):
		t.Fatal("start did not return")
	}

	streams := platform.openedStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].stops(), "stale stream released")
	assert.Equal(t, StateIdle, m.Session().State)
}

func TestManagerLaterStartWins(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	platform := &fakePlatform{perm: PermissionGranted, gates: map[int]chan struct{}{0: gate}}
	m := NewManager(platform, nil, Config{})

	first := make(chan error, 1)
	go func() { first <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return len(platform.openedTiers()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Start(context.Background()))
	close(gate)
	require.ErrorIs(t, <-first, ErrSuperseded)

	streams := platform.openedStreams()
	require.Len(t, streams, 2)
	active := 0
	for _, s := range streams {
		if s.stops() == 0 {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Equal(t, StateActive, m.Session().State)
}

func TestManagerAttachFailureTriesNextTier(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	surface := &fakeSurface{attachErrs: []error{errors.New("preview gone")}}
	m := NewManager(platform, surface, Config{})

	require.NoError(t, m.Start(context.Background()))

	streams := platform.openedStreams()
	require.Len(t, streams, 2)
	assert.Equal(t, 1, streams[0].stops())
	assert.Equal(t, 1, m.Session().Tier)
}

func TestManagerCancelledContextInterrupts(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := NewManager(&fakePlatform{perm: PermissionGranted}, nil, Config{})
	require.Error(t, m.Start(ctx))
	assert.Equal(t, KindInterrupted, m.Session().ErrorKind)
}

func TestManagerRestart(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	m := NewManager(platform, nil, Config{RestartDelay: time.Millisecond})

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Restart(context.Background()))

	streams := platform.openedStreams()
	require.Len(t, streams, 2)
	assert.Equal(t, 1, streams[0].stops())
	assert.Equal(t, StateActive, m.Session().State)
	assert.Equal(t, 0, m.Session().Tier, "restart begins again at the first tier")
}

func TestManagerRequestPermission(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionPrompt}
	m := NewManager(platform, nil, Config{})

	perm, err := m.RequestPermission(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PermissionGranted, perm)

	streams := platform.openedStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, 1, streams[0].stops(), "probe stream released at once")
	assert.Equal(t, "any", platform.openedTiers()[0].Name)

	s := m.Session()
	assert.Equal(t, StateIdle, s.State)
	assert.Equal(t, PermissionGranted, s.Permission)
}

func TestManagerRequestPermissionDenied(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{results: []error{ErrPermissionDenied}}
	m := NewManager(platform, nil, Config{})

	perm, err := m.RequestPermission(context.Background())
	require.Error(t, err)
	assert.Equal(t, PermissionDenied, perm)
	assert.Equal(t, KindPermissionDenied, Classify(err))
	assert.Equal(t, StateIdle, m.Session().State)
}

func TestManagerClosedRejectsStart(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	m := NewManager(platform, nil, Config{})
	require.NoError(t, m.Start(context.Background()))

	m.Close()
	assert.Equal(t, 1, platform.openedStreams()[0].stops())
	require.ErrorIs(t, m.Start(context.Background()), ErrClosed)
}

func TestDefaultTiersIsACopy(t *testing.T) {
	t.Parallel()

	tiers := DefaultTiers()
	tiers[0].Width = 1
	assert.Equal(t, 1280, DefaultTiers()[0].Width)
	assert.Len(t, DefaultTiers(), 4)
	assert.Equal(t, "any", DefaultTiers()[3].Name)
	assert.Equal(t, "ideal 1280x720 environment", DefaultTiers()[0].String())
}

func TestManagerRequestPermissionWhileRequesting(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	platform := &fakePlatform{perm: PermissionPrompt, gates: map[int]chan struct{}{0: gate}}
	m := NewManager(platform, nil, Config{})

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	require.Eventually(t, func() bool { return len(platform.openedTiers()) == 1 }, time.Second, 5*time.Millisecond)

	perm, err := m.RequestPermission(context.Background())
	require.ErrorIs(t, err, ErrDeviceBusy)
	assert.Equal(t, KindDeviceBusy, Classify(err))
	assert.Equal(t, PermissionPrompt, perm)
	assert.Len(t, platform.openedTiers(), 1, "no second acquisition while one is in flight")

	close(gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateActive, m.Session().State)
}

func TestManagerRestartDuringSlowDetachKeepsPreview(t *testing.T) {
	t.Parallel()

	platform := &fakePlatform{perm: PermissionGranted}
	surface := newPreviewSurface()
	m := NewManager(platform, surface, Config{})

	require.NoError(t, m.Start(context.Background()))

	second := make(chan error, 1)
	go func() { second <- m.Start(context.Background()) }()
	select {
	case <-surface.detaching:
	case <-time.After(time.Second):
		t.Fatal("previous stream was never detached")
	}

	third := make(chan error, 1)
	go func() { third <- m.Start(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	close(surface.release)

	for _, done := range []chan error{second, third} {
		if err := <-done; err != nil {
			require.ErrorIs(t, err, ErrSuperseded)
		}
	}

	require.Equal(t, StateActive, m.Session().State)
	var live []*fakeStream
	for _, s := range platform.openedStreams() {
		if s.stops() == 0 {
			live = append(live, s)
		}
	}
	require.Len(t, live, 1)
	assert.Same(t, live[0], surface.current(), "preview shows the held stream")
}

type fakePlatform struct {
	mu          sync.Mutex
	unsupported bool
	perm        Permission
	permErr     error
	results     []error
	gates       map[int]chan struct{}
	tiers       []Tier
	streams     []*fakeStream
}

func (f *fakePlatform) Supported() bool { return !f.unsupported }

func (f *fakePlatform) Permission(context.Context) (Permission, error) {
	return f.perm, f.permErr
}

func (f *fakePlatform) Open(ctx context.Context, tier Tier) (Stream, error) {
	f.mu.Lock()
	n := len(f.tiers)
	f.tiers = append(f.tiers, tier)
	gate := f.gates[n]
	var result error
	if n < len(f.results) {
		result = f.results[n]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if result != nil {
		return nil, result
	}

	s := &fakeStream{}
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
	return s, nil
}

func (f *fakePlatform) openedTiers() []Tier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Tier(nil), f.tiers...)
}

func (f *fakePlatform) openedStreams() []*fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeStream(nil), f.streams...)
}

type fakeStream struct {
	mu        sync.Mutex
	stopCalls int
}

func (s *fakeStream) Tracks() []Track { return []Track{s} }

func (s *fakeStream) Kind() string { return "video" }

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return nil
}

func (s *fakeStream) stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCalls
}

type fakeSurface struct {
	mu         sync.Mutex
	attachErrs []error
	attaches   int
	detaches   int
}

func (f *fakeSurface) Attach(Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.attaches
	f.attaches++
	if n < len(f.attachErrs) {
		return f.attachErrs[n]
	}
	return nil
}

func (f *fakeSurface) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detaches++
}

func (f *fakeSurface) attachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attaches
}

func (f *fakeSurface) detachCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detaches
}

// previewSurface tracks the attached stream; its first Detach holds until
// release is closed.
type previewSurface struct {
	mu        sync.Mutex
	attached  Stream
	detaches  int
	detaching chan struct{}
	release   chan struct{}
}

func newPreviewSurface() *previewSurface {
	return &previewSurface{detaching: make(chan struct{}), release: make(chan struct{})}
}

func (p *previewSurface) Attach(stream Stream) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = stream
	return nil
}

func (p *previewSurface) Detach() {
	p.mu.Lock()
	p.detaches++
	first := p.detaches == 1
	p.mu.Unlock()

	if first {
		close(p.detaching)
		<-p.release
	}

	p.mu.Lock()
	p.attached = nil
	p.mu.Unlock()
}

func (p *previewSurface) current() Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attached
}

type recordingListener struct {
	mu       sync.Mutex
	sessions []Session
}

func (l *recordingListener) CameraChanged(s Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = append(l.sessions, s)
}

func (l *recordingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sessions)
}

func (l *recordingListener) last() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[len(l.sessions)-1]
}
