package notify

import (
	"fmt"
	log "log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

const outputRate = beep.SampleRate(44100)

// Earcon plays a short cue when the microphone opens. Without a file it
// plays a built-in two-tone chime.
type Earcon struct {
	path string

	once    sync.Once
	initErr error
	mu      sync.Mutex
}

func NewEarcon(path string) *Earcon {
	return &Earcon{path: path}
}

func (e *Earcon) Listening() {
	if err := e.Play(); err != nil {
		log.Warn("Failed to play earcon", "path", e.path, "err", err)
	}
}

// Play blocks until the cue has been played.
func (e *Earcon) Play() error {
	e.once.Do(func() {
		e.initErr = speaker.Init(outputRate, outputRate.N(time.Second/10))
	})
	if e.initErr != nil {
		return fmt.Errorf("speaker init: %w", e.initErr)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	streamer, closeFn, err := e.source()
	if err != nil {
		return err
	}
	defer closeFn()

	done := make(chan struct{})
	speaker.Play(beep.Seq(streamer, beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

func (e *Earcon) source() (beep.Streamer, func(), error) {
	if e.path == "" {
		return Chime(outputRate), func() {}, nil
	}

	f, err := os.Open(e.path)
	if err != nil {
		return nil, nil, fmt.Errorf("open earcon: %w", err)
	}
	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("decode earcon: %w", err)
	}

	var s beep.Streamer = streamer
	if format.SampleRate != outputRate {
		s = beep.Resample(4, format.SampleRate, outputRate, streamer)
	}
	return s, func() { streamer.Close() }, nil
}

var chimeTones = []float64{880, 1320}

const (
	chimeTone = 90 * time.Millisecond
	chimeGain = 0.25
)

// Chime is a rising two-tone cue with a short fade on each tone.
func Chime(sr beep.SampleRate) beep.Streamer {
	per := sr.N(chimeTone)
	total := per * len(chimeTones)
	fadeLen := per / 10
	pos := 0

	return beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for n < len(samples) && pos < total {
			tone := chimeTones[pos/per]
			i := pos % per

			env := 1.0
			if i < fadeLen {
				env = float64(i) / float64(fadeLen)
			} else if per-i < fadeLen {
				env = float64(per-i) / float64(fadeLen)
			}

			v := chimeGain * env * math.Sin(2*math.Pi*tone*float64(pos)/float64(sr))
			samples[n][0] = v
			samples[n][1] = v
			n++
			pos++
		}
		return n, true
	})
}
