package stt

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type Options struct {
	Language      string // "auto", "en", ...
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string
	BeamSize      int // 0 = greedy
	SplitOnWord   bool
	Temperature   float32

	// OnSegment receives each segment as soon as it is decoded.
	OnSegment func(Segment)
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

type Transcriber struct {
	mu    sync.Mutex // a model runs one context at a time here
	model whisper.Model
}

func NewTranscriber(modelPath string) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Transcriber{model: m}, nil
}

func (t *Transcriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// TranscribePCM decodes mono 16 kHz float32 samples in [-1, 1]. Decoding
// stops early when ctx ends.
func (t *Transcriber) TranscribePCM(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	switch {
	case t.model == nil:
		return Result{}, errors.New("nil model")
	case len(pcm16k) == 0:
		return Result{}, errors.New("no audio samples provided")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wctx, err := t.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("new context: %w", err)
	}
	if err := configure(wctx, opt); err != nil {
		return Result{}, err
	}

	var onSegment whisper.SegmentCallback
	if opt.OnSegment != nil {
		onSegment = func(s whisper.Segment) { opt.OnSegment(toSegment(s)) }
	}
	keepGoing := func() bool { return ctx.Err() == nil }

	if err := wctx.Process(pcm16k, keepGoing, onSegment, nil); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Result{}, cerr
		}
		return Result{}, fmt.Errorf("process: %w", err)
	}

	res, err := collect(ctx, wctx)
	if err != nil {
		return Result{}, err
	}
	res.Language = cmp.Or(wctx.DetectedLanguage(), wctx.Language())
	return res, nil
}

func configure(wctx whisper.Context, opt Options) error {
	lang := cmp.Or(opt.Language, "auto")
	if err := wctx.SetLanguage(lang); err != nil {
		return fmt.Errorf("set language %q: %w", lang, err)
	}

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))
	wctx.SetSplitOnWord(opt.SplitOnWord)

	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	return nil
}

// collect drains the decoded segments; Text joins the non-empty ones.
func collect(ctx context.Context, wctx whisper.Context) (Result, error) {
	var (
		res   Result
		parts []string
	)
	for ctx.Err() == nil {
		s, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			res.Text = strings.Join(parts, " ")
			return res, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("next segment: %w", err)
		}
		seg := toSegment(s)
		res.Segments = append(res.Segments, seg)
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
	}
	return Result{}, ctx.Err()
}

func toSegment(s whisper.Segment) Segment {
	return Segment{
		Text:     strings.TrimSpace(s.Text),
		StartSec: s.Start.Seconds(),
		EndSec:   s.End.Seconds(),
	}
}

// LanguageCode turns a BCP 47 tag such as "en-US" into the code whisper
// expects.
func LanguageCode(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return "auto"
	}
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
