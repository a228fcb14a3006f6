package voice

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"sync"
	"time"

	"voxsight/internal/analysis"
	"voxsight/internal/command"
)

type Config struct {
	Language           string
	Debounce           time.Duration
	WelcomeDelay       time.Duration
	SkipWelcome        bool
	AnalysisTimeout    time.Duration
	MaxTransientErrors int
	Rate               float64
	Pitch              float64
	Volume             float64
}

func (c Config) withDefaults() Config {
	if c.Language == "" {
		c.Language = "en-US"
	}
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if c.WelcomeDelay <= 0 {
		c.WelcomeDelay = time.Second
	}
	if c.AnalysisTimeout <= 0 {
		c.AnalysisTimeout = 30 * time.Second
	}
	if c.MaxTransientErrors <= 0 {
		c.MaxTransientErrors = 3
	}
	if c.Rate <= 0 {
		c.Rate = 0.9
	}
	if c.Pitch <= 0 {
		c.Pitch = 1
	}
	if c.Volume <= 0 {
		c.Volume = 1
	}
	return c
}

// Deps are the ports a Controller drives. Camera, Frames and Cue are
// optional.
type Deps struct {
	Synth    Synthesizer
	Rec      Recognizer
	Analyzer analysis.Analyzer
	Camera   Camera
	Frames   FrameSource
	Cue      Cue
	Clock    Clock
}

// Controller alternates speaking and listening. All state is owned by the
// goroutine running Run; exported methods only post events to it.
type Controller struct {
	deps Deps
	cfg  Config

	inbox chan func()
	done  chan struct{}
	cam   *cameraDriver

	listenersMu sync.Mutex
	listeners   []Listener

	statusMu sync.RWMutex
	status   Status

	// Owned by the Run goroutine.
	ctx             context.Context
	phase           Phase
	playing         bool
	speaking        string
	pending         string
	speechID        uint64
	debounceID      uint64
	debounceStop    func() bool
	welcomeStop     func() bool
	session         Recognition
	sessionID       uint64
	transcript      string
	lastCommand     string
	mode            command.Mode
	cameraRequested bool
	result          string
	autoListen      bool
	transient       int
	analyzing       bool
	analysisID      uint64
	analysisCancel  context.CancelFunc
	errCode         ErrorCode
	errDetail       string
}

func NewController(deps Deps, cfg Config) *Controller {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	c := &Controller{
		deps:       deps,
		cfg:        cfg.withDefaults(),
		inbox:      make(chan func(), 64),
		done:       make(chan struct{}),
		phase:      PhaseIdle,
		mode:       command.ModeHome,
		autoListen: true,
	}
	if deps.Camera != nil {
		c.cam = newCameraDriver(deps.Camera)
	}
	c.status = c.snapshot()
	return c
}

func (c *Controller) AddListener(l Listener) {
	c.listenersMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenersMu.Unlock()
}

func (c *Controller) Status() Status {
	c.statusMu.RLock()
	defer c.statusMu.RUnlock()
	return c.status
}

// Run owns the turn loop until ctx is cancelled. It must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.done)

	if c.cam != nil {
		camCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go c.cam.run(camCtx)
	}

	if !c.cfg.SkipWelcome {
		c.welcomeStop = c.deps.Clock.AfterFunc(c.cfg.WelcomeDelay, func() {
			c.post(func() {
				c.welcomeStop = nil
				c.speak(command.Welcome)
			})
		})
	}

	log.Info("Voice loop running", "language", c.cfg.Language)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return nil
		case fn := <-c.inbox:
			fn()
			c.publish()
		}
	}
}

func (c *Controller) Speak(text string) { c.post(func() { c.speak(text) }) }

func (c *Controller) StartListening() { c.post(c.startListening) }

func (c *Controller) StopListening() { c.post(c.stopListening) }

func (c *Controller) CaptureNow() { c.post(c.captureNow) }

// Command handles text as if it had been recognized as a final utterance.
func (c *Controller) Command(text string) {
	c.post(func() {
		c.endListening()
		c.handleUtterance(text)
	})
}

// SetMode switches mode directly, with the same effects as the spoken
// command for it.
func (c *Controller) SetMode(mode command.Mode) {
	c.post(func() {
		res, ok := command.ForMode(mode)
		if !ok {
			log.Warn("Unknown mode", "mode", mode)
			return
		}
		c.endListening()
		if !c.playing {
			c.phase = PhaseProcessing
		}
		c.apply(res)
	})
}

func (c *Controller) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.done:
	}
}

func (c *Controller) speak(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if c.playing {
		if c.pending != "" {
			log.Debug("Pending utterance replaced", "dropped", c.pending)
		}
		c.pending = text
		return
	}
	c.cancelDebounce()
	c.endListening()
	c.play(text)
}

func (c *Controller) play(text string) {
	c.phase = PhaseSpeaking
	c.playing = true
	c.speaking = text
	c.speechID++
	id := c.speechID

	u := Utterance{Text: text, Rate: c.cfg.Rate, Pitch: c.cfg.Pitch, Volume: c.cfg.Volume}
	ctx := c.ctx
	go func() {
		err := c.deps.Synth.Speak(ctx, u)
		c.post(func() { c.playbackDone(id, err) })
	}()
}

func (c *Controller) playbackDone(id uint64, err error) {
	if id != c.speechID || !c.playing {
		return
	}
	c.playing = false
	c.speaking = ""

	if err != nil && c.ctx.Err() == nil {
		log.Error("Playback failed", "error", err)
		c.setError(ErrorPlaybackFailed, err.Error())
	}

	if c.pending != "" {
		next := c.pending
		c.pending = ""
		c.play(next)
		return
	}

	if c.analyzing {
		c.phase = PhaseProcessing
		return
	}

	// Still speaking until the de-bounce elapses.
	c.debounceID++
	debounce := c.debounceID
	c.debounceStop = c.deps.Clock.AfterFunc(c.cfg.Debounce, func() {
		c.post(func() { c.debounceElapsed(debounce) })
	})
}

func (c *Controller) debounceElapsed(id uint64) {
	if id != c.debounceID || c.debounceStop == nil {
		return
	}
	c.debounceStop = nil
	if c.phase != PhaseSpeaking || c.playing {
		return
	}
	if c.autoListen && !c.analyzing {
		c.listen()
		return
	}
	c.phase = PhaseIdle
}

func (c *Controller) cancelDebounce() {
	if c.debounceStop != nil {
		c.debounceStop()
		c.debounceStop = nil
	}
	c.debounceID++
}

func (c *Controller) startListening() {
	if c.phase == PhaseListening {
		return
	}
	c.autoListen = true
	c.transient = 0
	if c.playing || c.analyzing {
		log.Debug("Listen request deferred", "phase", c.phase)
		return
	}
	c.listen()
}

func (c *Controller) stopListening() {
	if c.phase != PhaseListening {
		return
	}
	c.endListening()
}

func (c *Controller) listen() {
	c.cancelDebounce()
	c.transcript = ""

	rec, err := c.deps.Rec.Listen(c.ctx, c.cfg.Language)
	if err != nil {
		c.phase = PhaseIdle
		c.recognitionFailed(err)
		return
	}

	c.sessionID++
	id := c.sessionID
	c.session = rec
	c.phase = PhaseListening
	if c.deps.Cue != nil {
		go c.deps.Cue.Listening()
	}

	go func() {
		for res := range rec.Results() {
			c.post(func() { c.recognized(id, res) })
		}
		c.post(func() { c.recognitionEnded(id) })
	}()
}

// endListening stops the session and discards the interim transcript.
func (c *Controller) endListening() {
	if c.session == nil {
		return
	}
	c.closeSession()
	c.transcript = ""
	if c.phase == PhaseListening {
		c.phase = PhaseIdle
	}
}

func (c *Controller) closeSession() {
	if c.session == nil {
		return
	}
	c.session.Stop()
	c.session = nil
	c.sessionID++
}

func (c *Controller) recognized(id uint64, res Result) {
	if id != c.sessionID || c.session == nil {
		return
	}
	if res.Err != nil {
		c.closeSession()
		c.phase = PhaseIdle
		c.recognitionFailed(res.Err)
		return
	}
	if !res.Final {
		c.transcript = res.Text
		return
	}
	if strings.TrimSpace(res.Text) == "" {
		return
	}

	c.closeSession()
	c.transient = 0
	c.clearError()
	c.handleUtterance(res.Text)
}

func (c *Controller) recognitionEnded(id uint64) {
	if id != c.sessionID || c.session == nil {
		return
	}
	c.session = nil
	c.sessionID++
	if c.phase == PhaseListening {
		c.phase = PhaseIdle
	}
}

func (c *Controller) recognitionFailed(err error) {
	re := AsRecognitionError(err)
	c.setError(recognitionErrorCode(re.Kind), re.Error())

	if !re.Transient() {
		log.Error("Recognition unavailable", "kind", re.Kind, "error", err)
		c.autoListen = false
		c.speak(recognitionRemediation(re.Kind))
		return
	}

	c.transient++
	log.Warn("Recognition error", "kind", re.Kind, "streak", c.transient, "error", err)
	if c.transient >= c.cfg.MaxTransientErrors {
		c.autoListen = false
		c.speak(StillNoSpeech)
		return
	}
	c.speak(recognitionRemediation(re.Kind))
}

func (c *Controller) handleUtterance(text string) {
	if !c.playing {
		c.phase = PhaseProcessing
	}
	c.transcript = strings.TrimSpace(text)
	c.apply(command.Classify(text))
}

func (c *Controller) apply(res command.Result) {
	c.lastCommand = res.Utterance
	log.Info("Command", "utterance", res.Utterance, "rule", res.Rule, "action", res.Action)

	if next, changed := res.Apply(c.mode); res.Action == command.ActionSetMode {
		if changed {
			log.Info("Mode changed", "from", c.mode, "to", next)
		}
		c.mode = next
		c.cameraRequested = next.CameraRequested()
		if next == command.ModeHome {
			c.result = ""
			c.cancelAnalysis()
		}
		if c.cam != nil {
			c.cam.request(c.cameraRequested)
		}
	}

	c.speak(res.Response)
}

func (c *Controller) captureNow() {
	if c.analyzing {
		return
	}
	if c.mode == command.ModeHome {
		c.speak(ChooseModeHint)
		return
	}
	if c.deps.Camera != nil {
		if s := c.deps.Camera.Session(); !s.Active() {
			if s.Message != "" {
				c.speak(s.Message)
			} else {
				c.speak(CameraWaitHint)
			}
			return
		}
	}

	c.endListening()
	c.cancelDebounce()
	c.analyzing = true
	c.result = "Processing..."
	if !c.playing {
		c.phase = PhaseProcessing
	}

	var frame []byte
	if c.deps.Frames != nil {
		if f, _, ok := c.deps.Frames.Latest(); ok {
			frame = f
		}
	}

	c.analysisID++
	id := c.analysisID
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.AnalysisTimeout)
	c.analysisCancel = cancel
	req := analysis.Request{Mode: c.mode, Frame: frame}

	log.Info("Analyzing frame", "mode", req.Mode, "bytes", len(frame))

	go func() {
		text, err := c.deps.Analyzer.Analyze(ctx, req)
		cancel()
		c.post(func() { c.analysisDone(id, text, err) })
	}()
}

func (c *Controller) analysisDone(id uint64, text string, err error) {
	if id != c.analysisID || !c.analyzing {
		return
	}
	c.analyzing = false
	c.analysisCancel = nil

	if err != nil {
		if errors.Is(err, context.Canceled) && c.ctx.Err() != nil {
			return
		}
		log.Error("Analysis failed", "mode", c.mode, "error", err)
		c.result = ""
		c.setError(ErrorAnalysisFailed, err.Error())
		c.speak(AnalysisFailed)
		return
	}

	c.result = text
	c.speak(text + FollowUp)
}

func (c *Controller) cancelAnalysis() {
	if !c.analyzing {
		return
	}
	c.analysisCancel()
	c.analysisCancel = nil
	c.analyzing = false
	c.analysisID++
}

func (c *Controller) setError(code ErrorCode, detail string) {
	c.errCode = code
	c.errDetail = detail
}

func (c *Controller) clearError() {
	c.errCode = ""
	c.errDetail = ""
}

func (c *Controller) teardown() {
	if c.welcomeStop != nil {
		c.welcomeStop()
	}
	c.cancelDebounce()
	c.closeSession()
	c.cancelAnalysis()
	c.pending = ""
	c.phase = PhaseIdle
	c.publish()
	log.Info("Voice loop stopped")
}

func (c *Controller) snapshot() Status {
	return Status{
		Phase:           c.phase,
		Transcript:      c.transcript,
		LastCommand:     c.lastCommand,
		Mode:            c.mode,
		CameraRequested: c.cameraRequested,
		Result:          c.result,
		Speaking:        c.speaking,
		Pending:         c.pending,
		AutoListen:      c.autoListen,
		Error:           c.errCode,
		ErrorDetail:     c.errDetail,
	}
}

func (c *Controller) publish() {
	s := c.snapshot()

	c.statusMu.Lock()
	if s == c.status {
		c.statusMu.Unlock()
		return
	}
	c.status = s
	c.statusMu.Unlock()

	c.listenersMu.Lock()
	listeners := append([]Listener(nil), c.listeners...)
	c.listenersMu.Unlock()

	for _, l := range listeners {
		l.VoiceChanged(s)
	}
}
