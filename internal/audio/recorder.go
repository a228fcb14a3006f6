package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

var (
	ErrNoSpeech = errors.New("no speech detected")
	ErrStopped  = errors.New("recording stopped")
)

type RecorderConfig struct {
	SampleRate int
	FrameSize  int     // samples per read
	SilenceRMS float64 // frames at or below are silence
	Silence    time.Duration
	NoSpeech   time.Duration
	MaxLength  time.Duration
}

func (c RecorderConfig) withDefaults() RecorderConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.FrameSize <= 0 {
		c.FrameSize = c.SampleRate / 50 // 20ms
	}
	if c.SilenceRMS <= 0 {
		c.SilenceRMS = 0.015
	}
	if c.Silence <= 0 {
		c.Silence = 600 * time.Millisecond
	}
	if c.NoSpeech <= 0 {
		c.NoSpeech = 8 * time.Second
	}
	if c.MaxLength <= 0 {
		c.MaxLength = 10 * time.Second
	}
	return c
}

func (c RecorderConfig) frames(d time.Duration) int {
	n := int(d.Seconds() * float64(c.SampleRate) / float64(c.FrameSize))
	if n < 1 {
		n = 1
	}
	return n
}

// Recorder captures mono float32 audio from the default input device.
type Recorder struct {
	cfg RecorderConfig
}

func NewRecorder(cfg RecorderConfig) *Recorder {
	return &Recorder{cfg: cfg.withDefaults()}
}

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// RecordUtterance records until speech is followed by a pause. It fails with
// ErrNoSpeech when nobody speaks in time and ErrStopped when ctx ends first.
func (r *Recorder) RecordUtterance(ctx context.Context) ([]float32, error) {
	buf := make([]float32, r.cfg.FrameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(r.cfg.SampleRate), len(buf), buf)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("start input: %w", err)
	}
	defer stream.Stop()

	seg := newSegmenter(r.cfg)
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrStopped, ctx.Err())
		default:
		}

		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}

		done, err := seg.push(buf)
		if err != nil {
			return nil, err
		}
		if done {
			log.Debug("Utterance recorded", "samples", len(seg.out))
			return seg.out, nil
		}
	}
}

// segmenter splits one utterance out of a stream of frames by energy.
type segmenter struct {
	threshold     float64
	silenceFrames int
	noSpeech      int
	maxFrames     int

	frames   int
	silent   int
	speaking bool
	out      []float32
}

func newSegmenter(cfg RecorderConfig) *segmenter {
	return &segmenter{
		threshold:     cfg.SilenceRMS,
		silenceFrames: cfg.frames(cfg.Silence),
		noSpeech:      cfg.frames(cfg.NoSpeech),
		maxFrames:     cfg.frames(cfg.MaxLength),
		out:           make([]float32, 0, cfg.SampleRate*3),
	}
}

// push consumes one frame and reports whether the utterance is complete.
func (s *segmenter) push(frame []float32) (bool, error) {
	s.frames++

	switch {
	case frameRMS(frame) > s.threshold:
		s.speaking = true
		s.silent = 0
		s.out = append(s.out, frame...)
	case s.speaking:
		s.silent++
		s.out = append(s.out, frame...)
		if s.silent >= s.silenceFrames {
			return true, nil
		}
	case s.frames >= s.noSpeech:
		return false, ErrNoSpeech
	}

	if s.frames >= s.maxFrames {
		if !s.speaking {
			return false, ErrNoSpeech
		}
		return true, nil
	}
	return false, nil
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
