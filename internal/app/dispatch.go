package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"voxsight/internal/camera"
	"voxsight/internal/command"
	"voxsight/internal/ipc"
	"voxsight/internal/voice"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNoCamera       = errors.New("camera disabled")
)

// Voice is the part of the turn controller exposed to remote control.
type Voice interface {
	Speak(text string)
	StartListening()
	StopListening()
	CaptureNow()
	Command(text string)
	SetMode(mode command.Mode)
	Status() voice.Status
}

type Camera interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	RequestPermission(ctx context.Context) (camera.Permission, error)
	Session() camera.Session
}

// Snapshot is the reply to the status command.
type Snapshot struct {
	Voice  voice.Status    `json:"voice"`
	Camera *camera.Session `json:"camera,omitempty"`
}

// Dispatcher maps control commands onto the assistant. Camera may be nil.
type Dispatcher struct {
	Voice  Voice
	Camera Camera
}

// Dispatch serves both the control socket and the hub.
func (d *Dispatcher) Dispatch(ctx context.Context, req ipc.Request) (any, error) {
	text := strings.TrimSpace(req.Text)

	switch strings.ToLower(strings.TrimSpace(req.Cmd)) {
	case "listen":
		d.Voice.StartListening()
	case "stop":
		d.Voice.StopListening()
	case "capture":
		d.Voice.CaptureNow()
	case "say":
		if text == "" {
			return nil, errors.New("say: empty text")
		}
		d.Voice.Speak(text)
	case "command":
		if text == "" {
			return nil, errors.New("command: empty text")
		}
		d.Voice.Command(text)
	case "mode":
		mode, ok := command.ParseMode(text)
		if !ok {
			return nil, fmt.Errorf("unknown mode %q", text)
		}
		d.Voice.SetMode(mode)
	case "back":
		d.Voice.SetMode(command.ModeHome)
	case "status":
		return d.snapshot(), nil

	case "camera-start":
		return d.camera(ctx, func(ctx context.Context, c Camera) error { return c.Start(ctx) })
	case "camera-stop":
		return d.camera(ctx, func(_ context.Context, c Camera) error { c.Stop(); return nil })
	case "camera-retry":
		return d.camera(ctx, func(ctx context.Context, c Camera) error { return c.Restart(ctx) })
	case "camera-permit":
		return d.camera(ctx, func(ctx context.Context, c Camera) error {
			_, err := c.RequestPermission(ctx)
			return err
		})

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, req.Cmd)
	}
	return nil, nil
}

func (d *Dispatcher) camera(ctx context.Context, op func(context.Context, Camera) error) (any, error) {
	if d.Camera == nil {
		return nil, ErrNoCamera
	}
	if err := op(ctx, d.Camera); err != nil {
		return nil, err
	}
	return d.Camera.Session(), nil
}

func (d *Dispatcher) snapshot() Snapshot {
	snap := Snapshot{Voice: d.Voice.Status()}
	if d.Camera != nil {
		s := d.Camera.Session()
		snap.Camera = &s
	}
	return snap
}
