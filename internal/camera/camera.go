// Package camera acquires and releases a live camera stream through an
// ordered list of fallback tiers.
package camera

import (
	"context"
	"encoding/json"
	"fmt"
)

type State string

const (
	StateIdle       State = "idle"
	StateRequesting State = "requesting"
	StateActive     State = "active"
	StateFailed     State = "failed"
)

type Permission string

const (
	PermissionUnknown Permission = "unknown"
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Tier is one capture request, from most to least specific.
// Zero Width/Height or empty FacingMode leave that property unconstrained.
type Tier struct {
	Name       string
	Width      int
	Height     int
	FacingMode string
}

func (t Tier) String() string {
	s := t.Name
	if t.Width > 0 && t.Height > 0 {
		s += fmt.Sprintf(" %dx%d", t.Width, t.Height)
	}
	if t.FacingMode != "" {
		s += " " + t.FacingMode
	}
	return s
}

const FacingEnvironment = "environment"

var defaultTiers = [...]Tier{
	{Name: "ideal", Width: 1280, Height: 720, FacingMode: FacingEnvironment},
	{Name: "minimal", Width: 640, Height: 480, FacingMode: FacingEnvironment},
	{Name: "facing", FacingMode: FacingEnvironment},
	{Name: "any"},
}

// DefaultTiers returns a fresh copy of the built-in fallback order.
func DefaultTiers() []Tier {
	out := make([]Tier, len(defaultTiers))
	copy(out, defaultTiers[:])
	return out
}

// Track is one media track of a stream; stopping it releases the device.
type Track interface {
	Kind() string
	Stop() error
}

type Stream interface {
	Tracks() []Track
}

// Platform is the host capture capability.
type Platform interface {
	Supported() bool
	Permission(ctx context.Context) (Permission, error)
	Open(ctx context.Context, tier Tier) (Stream, error)
}

// Surface is where an acquired stream is previewed. Detach runs under the
// manager lock and must not call back into the manager.
type Surface interface {
	Attach(stream Stream) error
	Detach()
}

// Listener is notified after every session change.
type Listener interface {
	CameraChanged(s Session)
}

type ListenerFunc func(Session)

func (f ListenerFunc) CameraChanged(s Session) { f(s) }

type Action string

const (
	ActionRetry             Action = "retry"
	ActionRequestPermission Action = "request_permission"
)

// Session is a snapshot of the capture lifecycle.
type Session struct {
	State      State      `json:"state"`
	ErrorKind  ErrorKind  `json:"errorKind,omitempty"`
	Message    string     `json:"message,omitempty"`
	Tier       int        `json:"tier"`
	TierName   string     `json:"tierName,omitempty"`
	Permission Permission `json:"permission"`
}

func (s Session) Active() bool {
	return s.State == StateActive
}

// Actions lists the controls a failed session should offer.
func (s Session) Actions() []Action {
	if s.State != StateFailed {
		return nil
	}
	actions := []Action{ActionRetry}
	if s.ErrorKind == KindPermissionDenied {
		actions = append(actions, ActionRequestPermission)
	}
	return actions
}

// MarshalJSON adds the offered actions to the snapshot.
func (s Session) MarshalJSON() ([]byte, error) {
	type session Session
	return json.Marshal(struct {
		session
		Actions []Action `json:"actions,omitempty"`
	}{session(s), s.Actions()})
}

func (s Session) CanRequestPermission() bool {
	for _, a := range s.Actions() {
		if a == ActionRequestPermission {
			return true
		}
	}
	return false
}
