package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

type FFMPEGConfig struct {
	Command       string
	InputFormat   string
	DefaultDevice string
	// Devices maps a facing mode to a device node.
	Devices map[string]string
	// Quality is the mjpeg -q:v value, 2 (best) to 31.
	Quality     int
	StartWindow time.Duration
}

// FFMPEG captures MJPEG frames from a V4L2 device through an ffmpeg
// subprocess.
type FFMPEG struct {
	cfg FFMPEGConfig
}

func NewFFMPEG(cfg FFMPEGConfig) *FFMPEG {
	if cfg.Command == "" {
		cfg.Command = "ffmpeg"
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "v4l2"
	}
	if cfg.DefaultDevice == "" {
		cfg.DefaultDevice = "/dev/video0"
	}
	if cfg.Devices == nil {
		cfg.Devices = map[string]string{FacingEnvironment: cfg.DefaultDevice}
	}
	if cfg.Quality < 2 || cfg.Quality > 31 {
		cfg.Quality = 5
	}
	if cfg.StartWindow <= 0 {
		cfg.StartWindow = 400 * time.Millisecond
	}
	return &FFMPEG{cfg: cfg}
}

func (f *FFMPEG) Supported() bool {
	_, err := exec.LookPath(f.cfg.Command)
	return err == nil
}

func (f *FFMPEG) Permission(_ context.Context) (Permission, error) {
	dev := f.device(FacingEnvironment)

	file, err := os.OpenFile(dev, os.O_RDONLY, 0)
	switch {
	case err == nil:
		_ = file.Close()
		return PermissionGranted, nil
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied, nil
	case errors.Is(err, os.ErrNotExist):
		return PermissionPrompt, nil
	default:
		return PermissionUnknown, err
	}
}

func (f *FFMPEG) Open(ctx context.Context, tier Tier) (Stream, error) {
	dev := f.device(tier.FacingMode)

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", f.cfg.InputFormat,
	}
	if tier.Width > 0 && tier.Height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", tier.Width, tier.Height))
	}
	args = append(args,
		"-i", dev,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", strconv.Itoa(f.cfg.Quality),
		"-",
	)

	// The process outlives the request context; its track owns it.
	cmd := exec.Command(f.cfg.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	timer := time.NewTimer(f.cfg.StartWindow)
	defer timer.Stop()

	select {
	case err := <-waitErr:
		diag := trimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, diag)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", diag)
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return nil, ctx.Err()
	case <-timer.C:
	}

	log.Debug("ffmpeg capture running", "device", dev, "tier", tier.Name, "pid", cmd.Process.Pid)

	return &ffmpegStream{track: &ffmpegTrack{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
	}}, nil
}

func (f *FFMPEG) device(facing string) string {
	if facing != "" {
		if dev, ok := f.cfg.Devices[facing]; ok && dev != "" {
			return dev
		}
	}
	return f.cfg.DefaultDevice
}

type ffmpegStream struct {
	track *ffmpegTrack
}

func (s *ffmpegStream) Tracks() []Track { return []Track{s.track} }

// Frames is the raw MJPEG byte stream.
func (s *ffmpegStream) Frames() io.Reader { return s.track.stdout }

type ffmpegTrack struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (t *ffmpegTrack) Kind() string { return "video" }

func (t *ffmpegTrack) Stop() error {
	t.stopOnce.Do(func() {
		_ = t.process.Signal(os.Interrupt)

		select {
		case err, ok := <-t.waitErr:
			if ok {
				t.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			_ = t.process.Kill()
			if err, ok := <-t.waitErr; ok {
				t.stopErr = normalizeExit(err)
			}
		}

		if err := t.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) && t.stopErr == nil {
			t.stopErr = err
		}
		if t.stopErr != nil && t.stderr.Len() > 0 {
			t.stopErr = fmt.Errorf("%w: %s", t.stopErr, trimSpace(t.stderr.String()))
		}
	})
	return t.stopErr
}

// normalizeExit drops the exit status an interrupted ffmpeg reports.
func normalizeExit(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimSpace(s string) string {
	return string(bytes.TrimSpace([]byte(s)))
}
