package speech

import (
	"context"
	"fmt"
	"io"
	log "log/slog"
	"sync"

	"voxsight/internal/voice"
)

type Ducker interface {
	Duck(ctx context.Context) error
	Restore(ctx context.Context) error
}

// Ducking lowers other playback for the length of each utterance.
type Ducking struct {
	Synth  voice.Synthesizer
	Ducker Ducker
}

func (d Ducking) Speak(ctx context.Context, u voice.Utterance) error {
	if err := d.Ducker.Duck(ctx); err != nil {
		log.Warn("Failed to duck playback", "err", err)
	}
	defer func() {
		if err := d.Ducker.Restore(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to restore playback", "err", err)
		}
	}()
	return d.Synth.Speak(ctx, u)
}

// Printer writes utterances instead of playing them.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Speak(ctx context.Context, u voice.Utterance) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := fmt.Fprintf(p.w, "» %s\n", u.Text)
	return err
}
