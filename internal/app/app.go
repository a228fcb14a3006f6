// Package app assembles the assistant from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"sync"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"voxsight/internal/analysis"
	"voxsight/internal/audio"
	"voxsight/internal/camera"
	"voxsight/internal/config"
	"voxsight/internal/hub"
	"voxsight/internal/ipc"
	"voxsight/internal/notify"
	"voxsight/internal/proxy"
	"voxsight/internal/speech"
	"voxsight/internal/tts"
	"voxsight/internal/voice"
	"voxsight/pkg/stt"
)

// duckKeep are the playback streams left at full volume while speaking.
var duckKeep = []string{"voxsight", "eSpeak", "espeak"}

type App struct {
	cfg   config.Config
	Voice *voice.Controller
	// Camera is nil when the camera is disabled.
	Camera *camera.Manager
	Frames *camera.FrameBuffer

	dispatcher *Dispatcher
	server     *ipc.Server
	hub        *hub.Hub
	closers    []func()
}

// New builds every component. Close releases whatever was acquired, also
// after a failed New.
func New(ctx context.Context, cfg config.Config) (_ *App, err error) {
	a := &App{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	deps := voice.Deps{}

	if deps.Analyzer, err = a.analyzer(); err != nil {
		return nil, err
	}
	log.Debug("Loaded analyzer", "backend", cfg.Analysis.Backend)

	if !cfg.Camera.Disabled {
		a.Frames = camera.NewFrameBuffer()
		devices := map[string]string{}
		if cfg.Camera.RearDevice != "" {
			devices[camera.FacingEnvironment] = cfg.Camera.RearDevice
		} else {
			devices[camera.FacingEnvironment] = cfg.Camera.Device
		}
		platform := camera.NewFFMPEG(camera.FFMPEGConfig{
			Command:       cfg.Camera.Command,
			InputFormat:   cfg.Camera.Format,
			DefaultDevice: cfg.Camera.Device,
			Devices:       devices,
			Quality:       cfg.Camera.Quality,
		})
		a.Camera = camera.NewManager(platform, a.Frames, camera.Config{RestartDelay: cfg.Camera.RestartDelay})
		a.closers = append(a.closers, a.Camera.Close)
		deps.Camera = a.Camera
		deps.Frames = a.Frames
		log.Debug("Loaded camera", "device", cfg.Camera.Device, "ffmpeg", platform.Supported())
	}

	if deps.Rec, err = a.recognizer(); err != nil {
		return nil, err
	}
	if deps.Synth, err = a.synthesizer(); err != nil {
		return nil, err
	}
	if !cfg.Voice.NoEarcon {
		deps.Cue = notify.NewEarcon(cfg.Voice.Earcon)
	}

	a.Voice = voice.NewController(deps, voice.Config{
		Language:           cfg.Voice.Language,
		Debounce:           cfg.Voice.Debounce,
		WelcomeDelay:       cfg.Voice.WelcomeDelay,
		SkipWelcome:        cfg.Voice.NoWelcome,
		AnalysisTimeout:    cfg.Analysis.Timeout,
		MaxTransientErrors: cfg.Voice.MaxTransient,
		Rate:               cfg.Voice.Rate,
		Pitch:              cfg.Voice.Pitch,
		Volume:             cfg.Voice.Volume,
	})
	a.Voice.AddListener(voice.ListenerFunc(logVoice))

	a.dispatcher = &Dispatcher{Voice: a.Voice}
	if a.Camera != nil {
		a.dispatcher.Camera = a.Camera
		a.Camera.AddListener(camera.ListenerFunc(logCamera))
	}

	if a.server, err = ipc.Listen(cfg.Socket, a.dispatcher.Dispatch); err != nil {
		return nil, fmt.Errorf("control socket: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.server.Close() })

	if cfg.Hub.URL != "" {
		a.hub, err = hub.Dial(ctx, hub.Config{
			URL:       cfg.Hub.URL,
			Shard:     cfg.Hub.Shard,
			Reconnect: cfg.Hub.Reconnect,
		}, a.dispatcher.Dispatch)
		if err != nil {
			// The assistant is usable standalone.
			log.Warn("Hub unavailable, running standalone", "url", cfg.Hub.URL, "err", err)
			a.hub, err = nil, nil
		} else {
			a.Voice.AddListener(a.hub)
			if a.Camera != nil {
				a.Camera.AddListener(a.hub)
			}
			a.closers = append(a.closers, func() { _ = a.hub.Close() })
		}
	}

	return a, nil
}

func (a *App) analyzer() (analysis.Analyzer, error) {
	switch a.cfg.Analysis.Backend {
	case "openai":
		httpClient, err := proxy.NewHTTPClient(a.cfg.Proxy, a.cfg.Analysis.Timeout)
		if err != nil {
			return nil, err
		}
		client := openai.NewClient(
			option.WithAPIKey(a.cfg.Analysis.APIKey),
			option.WithHTTPClient(httpClient),
		)
		return analysis.NewOpenAI(client, a.cfg.Analysis.Model), nil
	default:
		return analysis.NewStub(a.cfg.Analysis.StubDelay), nil
	}
}

func (a *App) recognizer() (voice.Recognizer, error) {
	var src speech.PCMSource
	if a.cfg.Speech.Replay != "" {
		replay, err := speech.ReplayDir(a.cfg.Speech.Replay)
		if err != nil {
			return nil, err
		}
		log.Info("Replaying clips instead of the microphone", "dir", a.cfg.Speech.Replay, "clips", replay.Remaining())
		src = replay
	} else {
		rec := audio.NewRecorder(audio.RecorderConfig{})
		if err := rec.Init(); err != nil {
			return nil, fmt.Errorf("init audio: %w", err)
		}
		a.closers = append(a.closers, rec.Close)
		src = rec
	}

	tr, err := stt.NewTranscriber(a.cfg.Speech.Model)
	if err != nil {
		return nil, fmt.Errorf("init whisper: %w", err)
	}
	a.closers = append(a.closers, func() { _ = tr.Close() })
	log.Debug("Loaded whisper", "model", a.cfg.Speech.Model)

	return speech.NewRecognizer(src, tr, speech.RecognizerConfig{Threads: a.cfg.Speech.Threads}), nil
}

func (a *App) synthesizer() (voice.Synthesizer, error) {
	var synth voice.Synthesizer
	switch a.cfg.Speech.Synth {
	case "print":
		synth = speech.NewPrinter(os.Stdout)
	default:
		es, err := tts.NewEspeak(a.cfg.Voice.Language)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, es.Close)
		synth = es
	}
	if a.cfg.Voice.Duck {
		synth = speech.Ducking{
			Synth:  synth,
			Ducker: audio.NewDucker(audio.DuckConfig{Keep: duckKeep, Fade: 150 * time.Millisecond}),
		}
	}
	return synth, nil
}

// Run blocks until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg   sync.WaitGroup
		once sync.Once
		ferr error
	)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("Component stopped", "component", name, "err", err)
				once.Do(func() { ferr = fmt.Errorf("%s: %w", name, err) })
			}
			cancel()
		}()
	}

	run("voice", a.Voice.Run)
	run("control", a.server.Serve)
	if a.hub != nil {
		run("hub", a.hub.Run)
	}

	log.Info("Assistant ready", "socket", a.server.Path())
	wg.Wait()
	return ferr
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func logVoice(s voice.Status) {
	log.Debug("Voice", "phase", s.Phase, "mode", s.Mode, "transcript", s.Transcript, "error", s.Error)
}

func logCamera(s camera.Session) {
	if s.State == camera.StateFailed {
		log.Warn("Camera failed", "kind", s.ErrorKind, "message", s.Message)
		return
	}
	log.Info("Camera", "state", s.State, "tier", s.TierName)
}
