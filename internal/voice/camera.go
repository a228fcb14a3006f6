package voice

import (
	"context"
	"errors"
	log "log/slog"
	"sync"

	"voxsight/internal/camera"
)

// cameraDriver moves the camera towards the most recently requested state.
// A request for the camera while an acquisition is in flight reuses it;
// a release stops and cancels it.
type cameraDriver struct {
	cam  Camera
	wake chan struct{}

	mu     sync.Mutex
	want   bool
	cancel context.CancelFunc
}

func newCameraDriver(cam Camera) *cameraDriver {
	return &cameraDriver{cam: cam, wake: make(chan struct{}, 1)}
}

func (d *cameraDriver) request(want bool) {
	d.mu.Lock()
	d.want = want
	inflight := d.cancel
	d.mu.Unlock()

	// Once the manager is requesting, Stop supersedes the attempt so its
	// cancellation is discarded instead of reported as a failure. Before
	// that the attempt is left to finish and run stops it afterwards.
	if !want && inflight != nil && d.cam.Session().State == camera.StateRequesting {
		d.cam.Stop()
		inflight()
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *cameraDriver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.wake:
		}
		d.apply(ctx)
	}
}

func (d *cameraDriver) apply(ctx context.Context) {
	d.mu.Lock()
	if !d.want {
		d.mu.Unlock()
		if d.cam.Session().State != camera.StateIdle {
			d.cam.Stop()
		}
		return
	}
	if d.cam.Session().State == camera.StateActive {
		d.mu.Unlock()
		return
	}
	startCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	err := d.cam.Start(startCtx)

	d.mu.Lock()
	d.cancel = nil
	d.mu.Unlock()
	cancel()

	if err != nil && !errors.Is(err, camera.ErrSuperseded) {
		log.Warn("Camera start failed", "error", err)
	}
}
