// Package speech adapts microphone capture and whisper transcription to the
// voice loop's recognizer and synthesizer ports.
package speech

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"voxsight/internal/audio"
	"voxsight/internal/voice"
	"voxsight/pkg/stt"
)

// PCMSource yields one utterance of mono 16 kHz samples per call.
type PCMSource interface {
	RecordUtterance(ctx context.Context) ([]float32, error)
}

type Transcriber interface {
	TranscribePCM(ctx context.Context, pcm16k []float32, opt stt.Options) (stt.Result, error)
}

type RecognizerConfig struct {
	Threads       int
	InitialPrompt string
}

// Recognizer records one utterance per session and transcribes it. Decoded
// segments are reported as interim results before the final one.
type Recognizer struct {
	src PCMSource
	tr  Transcriber
	cfg RecognizerConfig
}

func NewRecognizer(src PCMSource, tr Transcriber, cfg RecognizerConfig) *Recognizer {
	return &Recognizer{src: src, tr: tr, cfg: cfg}
}

func (r *Recognizer) Listen(ctx context.Context, lang string) (voice.Recognition, error) {
	if r.src == nil || r.tr == nil {
		return nil, &voice.RecognitionError{Kind: voice.RecognitionUnsupported}
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		results: make(chan voice.Result, 8),
		ctx:     sctx,
		cancel:  cancel,
	}
	go s.run(r, stt.LanguageCode(lang))
	return s, nil
}

type session struct {
	results chan voice.Result
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *session) Results() <-chan voice.Result { return s.results }

func (s *session) Stop() {
	s.once.Do(s.cancel)
}

func (s *session) run(r *Recognizer, lang string) {
	defer close(s.results)
	defer s.cancel()

	pcm, err := r.src.RecordUtterance(s.ctx)
	if err != nil {
		s.fail(err)
		return
	}

	var interim []string
	res, err := r.tr.TranscribePCM(s.ctx, pcm, stt.Options{
		Language:      lang,
		Threads:       r.cfg.Threads,
		InitialPrompt: r.cfg.InitialPrompt,
		OnSegment: func(seg stt.Segment) {
			if seg.Text == "" {
				return
			}
			interim = append(interim, seg.Text)
			s.send(voice.Result{Text: strings.Join(interim, " ")})
		},
	})
	if err != nil {
		s.fail(err)
		return
	}

	text := strings.TrimSpace(res.Text)
	if text == "" || isBlank(text) {
		s.fail(audio.ErrNoSpeech)
		return
	}

	log.Info("Transcribed", "text", text, "language", res.Language)
	s.send(voice.Result{Text: text, Final: true})
}

func (s *session) send(res voice.Result) {
	select {
	case s.results <- res:
	case <-s.ctx.Done():
	}
}

// fail reports err unless the session was stopped on purpose.
func (s *session) fail(err error) {
	if s.ctx.Err() != nil {
		log.Debug("Recognition stopped", "err", err)
		return
	}
	rerr := Classify(err)
	log.Warn("Recognition failed", "kind", rerr.Kind, "err", err)
	s.results <- voice.Result{Err: rerr}
}

// Classify maps capture and decoding failures onto recognition error kinds.
func Classify(err error) *voice.RecognitionError {
	var re *voice.RecognitionError
	switch {
	case errors.As(err, &re):
		return re
	case errors.Is(err, audio.ErrNoSpeech):
		return &voice.RecognitionError{Kind: voice.RecognitionNoSpeech, Err: err}
	case errors.Is(err, audio.ErrStopped), errors.Is(err, context.Canceled):
		return &voice.RecognitionError{Kind: voice.RecognitionAborted, Err: err}
	case errors.Is(err, portaudio.InvalidDevice), errors.Is(err, portaudio.DeviceUnavailable):
		return &voice.RecognitionError{Kind: voice.RecognitionAudioCapture, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"), strings.Contains(msg, "not allowed"):
		return &voice.RecognitionError{Kind: voice.RecognitionPermissionDenied, Err: err}
	case strings.Contains(msg, "input"), strings.Contains(msg, "device"):
		return &voice.RecognitionError{Kind: voice.RecognitionAudioCapture, Err: err}
	}
	return &voice.RecognitionError{Kind: voice.RecognitionAborted, Err: err}
}

// isBlank catches whisper's placeholders for silence, e.g. "[BLANK_AUDIO]".
func isBlank(text string) bool {
	t := strings.Trim(text, " .")
	return strings.HasPrefix(t, "[") && strings.HasSuffix(t, "]") ||
		strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")")
}
