package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"typed", &Error{Kind: KindDeviceBusy, Err: errors.New("x")}, KindDeviceBusy},
		{"wrapped typed", fmt.Errorf("open: %w", &Error{Kind: KindSecurityBlocked, Err: errors.New("x")}), KindSecurityBlocked},
		{"sentinel", fmt.Errorf("tier: %w", ErrConstraints), KindConstraints},
		{"canceled", context.Canceled, KindInterrupted},
		{"fs permission", &fs.PathError{Op: "open", Path: "/dev/video0", Err: fs.ErrPermission}, KindPermissionDenied},
		{"fs missing", &fs.PathError{Op: "open", Path: "/dev/video9", Err: fs.ErrNotExist}, KindDeviceNotFound},
		{"errno busy", &fs.PathError{Op: "open", Path: "/dev/video0", Err: syscall.EBUSY}, KindDeviceBusy},
		{"ffmpeg permission", errors.New("[video4linux2,v4l2 @ 0x5] Cannot open video device /dev/video0: Permission denied"), KindPermissionDenied},
		{"ffmpeg missing", errors.New("/dev/video3: No such file or directory"), KindDeviceNotFound},
		{"ffmpeg busy", errors.New("ioctl(VIDIOC_STREAMON): Device or resource busy"), KindDeviceBusy},
		{"ffmpeg size", errors.New("ioctl(VIDIOC_S_FMT): Invalid argument"), KindConstraints},
		{"ffmpeg signal", errors.New("Exiting normally, received signal 2."), KindInterrupted},
		{"other", errors.New("boom"), KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestRemediationCoversEveryKind(t *testing.T) {
	t.Parallel()

	kinds := []ErrorKind{
		KindPermissionDenied, KindDeviceNotFound, KindDeviceBusy, KindConstraints,
		KindInterrupted, KindSecurityBlocked, KindUnsupported, KindUnknown,
	}
	seen := map[string]bool{}
	for _, k := range kinds {
		msg := Remediation(k)
		assert.NotEmpty(t, msg, k)
		assert.False(t, seen[msg], "duplicate remediation for %s", k)
		seen[msg] = true
	}
	assert.Contains(t, Remediation(KindPermissionDenied), "permission")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindDeviceBusy, Tier: "ideal", Err: ErrDeviceBusy}
	assert.Equal(t, "camera tier ideal: device_busy: camera device busy", err.Error())
	assert.ErrorIs(t, err, ErrDeviceBusy)
}
