package audio

import (
	"context"
	"fmt"
	log "log/slog"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id   int
	from int
	to   int
}

type DuckConfig struct {
	Keep   []string // application.name values left untouched
	Factor float64  // ducked volume = current * Factor
	Floor  int      // never duck below this percentage
	Fade   time.Duration
}

// Ducker lowers other applications' playback streams through pactl while
// the assistant is talking, and restores them afterwards.
type Ducker struct {
	cfg DuckConfig
	run func(ctx context.Context, args ...string) ([]byte, error)

	mu     sync.Mutex
	ducked bool
	saved  map[int]int
}

func NewDucker(cfg DuckConfig) *Ducker {
	if cfg.Factor <= 0 || cfg.Factor > 1 {
		cfg.Factor = 0.3
	}
	cfg.Floor = clampVolume(cfg.Floor)
	return &Ducker{
		cfg:   cfg,
		run:   pactl,
		saved: make(map[int]int),
	}
}

func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ducked {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)
	var fades []fade
	for _, in := range inputs {
		if d.keep(in) {
			continue
		}
		to := int(math.Round(float64(in.Volume) * d.cfg.Factor))
		if to < d.cfg.Floor {
			to = d.cfg.Floor
		}
		d.saved[in.ID] = in.Volume
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.apply(ctx, fades); err != nil {
		return err
	}
	d.ducked = true
	log.Debug("Ducked playback", "streams", len(fades))
	return nil
}

func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.ducked {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var fades []fade
	for _, in := range inputs {
		orig, ok := d.saved[in.ID]
		if !ok || d.keep(in) {
			// started after Duck
			continue
		}
		fades = append(fades, fade{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.apply(ctx, fades); err != nil {
		return err
	}
	d.saved = make(map[int]int)
	d.ducked = false
	log.Debug("Restored playback", "streams", len(fades))
	return nil
}

func (d *Ducker) keep(in sinkInput) bool {
	for _, name := range d.cfg.Keep {
		if in.AppName == name {
			return true
		}
	}
	return false
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(string(out)), nil
}

// apply steps every stream from its current volume to its target.
func (d *Ducker) apply(ctx context.Context, fades []fade) error {
	if len(fades) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond
	steps := int(d.cfg.Fade / minStep)
	if steps < 1 {
		steps = 1
	}
	pause := d.cfg.Fade / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(i) / float64(steps)
		for _, f := range fades {
			v := int(math.Round(float64(f.from) + float64(f.to-f.from)*frac))
			if err := d.setVolume(ctx, f.id, v); err != nil {
				return err
			}
		}
		if i < steps && pause > 0 {
			time.Sleep(pause)
		}
	}
	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	arg := strconv.Itoa(clampVolume(percent)) + "%"
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), arg); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	if len(blocks) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range blocks[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume == 0:
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				if v, ok := quoted(line); ok {
					in.AppName = v
				}
			}
		}

		if in.Volume == 0 && in.AppName == "" {
			continue
		}
		res = append(res, in)
	}
	return res
}

func quoted(line string) (string, bool) {
	start := strings.IndexByte(line, '"')
	if start < 0 {
		return "", false
	}
	rest := line[start+1:]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 150 {
		return 150
	}
	return v
}
