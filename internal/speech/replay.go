package speech

import (
	"context"
	"fmt"
	log "log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"voxsight/internal/audio"
	"voxsight/pkg/audioconv"
)

const maxReplaySamples = 30 * audioconv.TargetRate

// Replay serves pre-recorded clips in order, one per utterance, in place of
// a microphone.
type Replay struct {
	mu    sync.Mutex
	paths []string
	next  int
}

func NewReplay(paths ...string) *Replay {
	return &Replay{paths: append([]string(nil), paths...)}
}

// ReplayDir replays every decodable file in dir in name order.
func ReplayDir(dir string) (*Replay, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(audioconv.Extensions, strings.ToLower(filepath.Ext(e.Name()))) {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no audio clips in %s", dir)
	}
	slices.Sort(paths)
	return NewReplay(paths...), nil
}

// RecordUtterance decodes the next clip. Once every clip has been served it
// reports audio.ErrNoSpeech.
func (r *Replay) RecordUtterance(ctx context.Context) ([]float32, error) {
	r.mu.Lock()
	if r.next >= len(r.paths) {
		r.mu.Unlock()
		return nil, audio.ErrNoSpeech
	}
	path := r.paths[r.next]
	r.next++
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrStopped, err)
	}

	pcm, err := audioconv.ConvertFileToPCM16k(ctx, path, audioconv.Options{MaxSamples: maxReplaySamples})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", filepath.Base(path), err)
	}
	log.Debug("Replaying clip", "path", path, "samples", len(pcm))
	return pcm, nil
}

func (r *Replay) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths) - r.next
}
