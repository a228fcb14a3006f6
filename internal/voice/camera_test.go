package voice

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxsight/internal/camera"
	"voxsight/internal/command"
)

// hangingPlatform grants access and blocks every Open until its context ends.
type hangingPlatform struct {
	opened   chan struct{}
	returned chan struct{}
	once     sync.Once
}

func newHangingPlatform() *hangingPlatform {
	return &hangingPlatform{opened: make(chan struct{}), returned: make(chan struct{})}
}

func (p *hangingPlatform) Supported() bool { return true }

func (p *hangingPlatform) Permission(context.Context) (camera.Permission, error) {
	return camera.PermissionGranted, nil
}

func (p *hangingPlatform) Open(ctx context.Context, _ camera.Tier) (camera.Stream, error) {
	first := false
	p.once.Do(func() {
		first = true
		close(p.opened)
	})
	<-ctx.Done()
	if first {
		close(p.returned)
	}
	return nil, ctx.Err()
}

type sessionLog struct {
	mu     sync.Mutex
	states []camera.State
}

func (l *sessionLog) CameraChanged(s camera.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s.State)
}

func (l *sessionLog) get() []camera.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]camera.State(nil), l.states...)
}

func TestGoBackDuringAcquisitionEndsIdle(t *testing.T) {
	t.Parallel()

	platform := newHangingPlatform()
	mgr := camera.NewManager(platform, nil, camera.Config{})
	states := &sessionLog{}
	mgr.AddListener(states)

	h := newHarness(t, func(deps *Deps, _ *Config) {
		deps.Camera = mgr
	})

	h.c.Command("detect object")
	select {
	case <-platform.opened:
	case <-time.After(waitFor):
		t.Fatal("camera was never opened")
	}
	require.Equal(t, camera.StateRequesting, mgr.Session().State)

	h.c.Command("go back")
	h.waitSaid(t, command.Rules[4].Response)

	select {
	case <-platform.returned:
	case <-time.After(waitFor):
		t.Fatal("acquisition was not cancelled")
	}
	// the abandoned attempt has nothing left to publish once it is idle
	require.Eventually(t, func() bool { return mgr.Session().State == camera.StateIdle }, waitFor, 5*time.Millisecond)
	h.flush()

	s := mgr.Session()
	assert.Equal(t, camera.StateIdle, s.State)
	assert.Empty(t, s.Message)
	assert.NotContains(t, states.get(), camera.StateFailed)
	assert.False(t, h.c.Status().CameraRequested)
}
