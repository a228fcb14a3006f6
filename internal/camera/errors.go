package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"syscall"
)

type ErrorKind string

const (
	KindPermissionDenied ErrorKind = "permission_denied"
	KindDeviceNotFound   ErrorKind = "device_not_found"
	KindDeviceBusy       ErrorKind = "device_busy"
	KindConstraints      ErrorKind = "constraints_unsatisfiable"
	KindInterrupted      ErrorKind = "interrupted"
	KindSecurityBlocked  ErrorKind = "security_blocked"
	KindUnsupported      ErrorKind = "unsupported_platform"
	KindUnknown          ErrorKind = "unknown"
)

var (
	ErrPermissionDenied = errors.New("camera permission denied")
	ErrDeviceNotFound   = errors.New("camera device not found")
	ErrDeviceBusy       = errors.New("camera device busy")
	ErrConstraints      = errors.New("camera constraints unsatisfiable")
	ErrInterrupted      = errors.New("camera acquisition interrupted")
	ErrSecurityBlocked  = errors.New("camera access blocked")
	ErrUnsupported      = errors.New("camera capture unsupported")

	// ErrSuperseded is returned by Start when a later Start or Stop made the
	// attempt obsolete.
	ErrSuperseded = errors.New("camera start superseded")
	ErrClosed     = errors.New("camera manager closed")
)

// Error is a classified acquisition failure.
type Error struct {
	Kind ErrorKind
	Tier string
	Err  error
}

func (e *Error) Error() string {
	if e.Tier != "" {
		return fmt.Sprintf("camera tier %s: %s: %v", e.Tier, e.Kind, e.Err)
	}
	return fmt.Sprintf("camera: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var sentinelKinds = []struct {
	err  error
	kind ErrorKind
}{
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrDeviceNotFound, KindDeviceNotFound},
	{ErrDeviceBusy, KindDeviceBusy},
	{ErrConstraints, KindConstraints},
	{ErrInterrupted, KindInterrupted},
	{ErrSecurityBlocked, KindSecurityBlocked},
	{ErrUnsupported, KindUnsupported},
	{context.Canceled, KindInterrupted},
	{context.DeadlineExceeded, KindInterrupted},
	{fs.ErrPermission, KindPermissionDenied},
	{fs.ErrNotExist, KindDeviceNotFound},
	{syscall.EBUSY, KindDeviceBusy},
	{syscall.EINVAL, KindConstraints},
	{syscall.EINTR, KindInterrupted},
}

// V4L2 and ffmpeg diagnostics, matched case-insensitively.
var diagnosticKinds = []struct {
	text string
	kind ErrorKind
}{
	{"permission denied", KindPermissionDenied},
	{"operation not permitted", KindSecurityBlocked},
	{"no such file or directory", KindDeviceNotFound},
	{"no such device", KindDeviceNotFound},
	{"device or resource busy", KindDeviceBusy},
	{"invalid argument", KindConstraints},
	{"not supported by the device", KindConstraints},
	{"interrupted", KindInterrupted},
	{"exiting normally, received signal", KindInterrupted},
}

// Classify maps a platform error onto the camera error taxonomy.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ce *Error
	if errors.As(err, &ce) && ce.Kind != "" {
		return ce.Kind
	}

	for _, sk := range sentinelKinds {
		if errors.Is(err, sk.err) {
			return sk.kind
		}
	}

	msg := strings.ToLower(err.Error())
	for _, dk := range diagnosticKinds {
		if strings.Contains(msg, dk.text) {
			return dk.kind
		}
	}

	return KindUnknown
}

// Remediation is the user-facing message shown and spoken for a failure.
func Remediation(kind ErrorKind) string {
	switch kind {
	case KindPermissionDenied:
		return "Camera permission was denied. Please allow camera access for this application and try again, " +
			"or request permission again."
	case KindDeviceNotFound:
		return "No camera was found. Please connect a camera and try again."
	case KindDeviceBusy:
		return "The camera is being used by another application. Please close it and try again."
	case KindConstraints:
		return "The camera does not support the requested settings. Please try again with a different camera."
	case KindInterrupted:
		return "Camera start was interrupted. Please try again."
	case KindSecurityBlocked:
		return "Camera access is blocked by the system security policy. Please check the device permissions."
	case KindUnsupported:
		return "Camera capture is not supported on this host. Please install ffmpeg or use a different machine."
	default:
		return "Unable to access camera. Please ensure camera permissions are granted."
	}
}
