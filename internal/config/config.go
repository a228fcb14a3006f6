// Package config resolves runtime configuration from flags, a .env file and
// VOXSIGHT_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	log "log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
)

const EnvPrefix = "VOXSIGHT_"

type Config struct {
	EnvFile  string
	LogLevel string
	Socket   string
	Proxy    string

	Hub      HubConfig
	Voice    VoiceConfig
	Speech   SpeechConfig
	Camera   CameraConfig
	Analysis AnalysisConfig
}

type HubConfig struct {
	URL       string
	Shard     string
	Reconnect time.Duration
}

type VoiceConfig struct {
	Language     string
	Debounce     time.Duration
	WelcomeDelay time.Duration
	NoWelcome    bool
	Rate         float64
	Pitch        float64
	Volume       float64
	MaxTransient int
	Earcon       string
	NoEarcon     bool
	Duck         bool
}

type SpeechConfig struct {
	Model   string
	Threads int
	Replay  string // directory of clips used instead of the microphone
	Synth   string // espeak | print
}

type CameraConfig struct {
	Command      string
	Format       string
	Device       string
	RearDevice   string
	Quality      int
	RestartDelay time.Duration
	Disabled     bool
}

type AnalysisConfig struct {
	Backend   string // stub | openai
	Model     string
	APIKey    string
	Timeout   time.Duration
	StubDelay time.Duration
}

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func (c Config) Level() log.Level {
	return logLevelMap[c.LogLevel]
}

// Load parses args (without the program name).
func Load(args []string) (Config, error) {
	var cfg Config
	fs := cli.NewFlagSet("voxsight", cli.ContinueOnError)

	fs.StringVarP(&cfg.EnvFile, "env", "e", ".env", "Env file path")
	fs.StringVarP(&cfg.LogLevel, "log", "l", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.Socket, "socket", "/tmp/voxsight.sock", "Control socket path")
	fs.StringVarP(&cfg.Proxy, "proxy", "p", "", "SOCKS5 proxy for outbound API calls")

	fs.StringVar(&cfg.Hub.URL, "hub", "", "Hub WebSocket URL, empty to disable")
	fs.StringVar(&cfg.Hub.Shard, "shard", "VISION", "Shard name on the hub")
	fs.DurationVar(&cfg.Hub.Reconnect, "hub-reconnect", time.Second, "Hub reconnect interval")

	fs.StringVar(&cfg.Voice.Language, "lang", "en-US", "Recognition and speech language")
	fs.DurationVar(&cfg.Voice.Debounce, "debounce", 500*time.Millisecond, "Pause between speaking and listening")
	fs.DurationVar(&cfg.Voice.WelcomeDelay, "welcome-delay", time.Second, "Delay before the welcome prompt")
	fs.BoolVar(&cfg.Voice.NoWelcome, "no-welcome", false, "Skip the welcome prompt")
	fs.Float64Var(&cfg.Voice.Rate, "rate", 0.9, "Speech rate, 1 is normal")
	fs.Float64Var(&cfg.Voice.Pitch, "pitch", 1, "Speech pitch, 1 is normal")
	fs.Float64Var(&cfg.Voice.Volume, "volume", 1, "Speech volume, 1 is normal")
	fs.IntVar(&cfg.Voice.MaxTransient, "max-retries", 3, "Recognition errors in a row before listening pauses")
	fs.StringVar(&cfg.Voice.Earcon, "earcon", "", "MP3 played when listening starts (built-in chime if empty)")
	fs.BoolVar(&cfg.Voice.NoEarcon, "no-earcon", false, "Do not play a cue when listening starts")
	fs.BoolVar(&cfg.Voice.Duck, "duck", false, "Lower other applications while speaking")

	fs.StringVarP(&cfg.Speech.Model, "model", "m", "models/ggml-base.en.bin", "Whisper model path")
	fs.IntVar(&cfg.Speech.Threads, "threads", 0, "Whisper threads, 0 for all CPUs")
	fs.StringVar(&cfg.Speech.Replay, "replay", "", "Directory of audio clips to use instead of the microphone")
	fs.StringVar(&cfg.Speech.Synth, "synth", "espeak", "Speech output (espeak, print)")

	fs.StringVar(&cfg.Camera.Command, "camera-cmd", "ffmpeg", "ffmpeg binary")
	fs.StringVar(&cfg.Camera.Format, "camera-format", "v4l2", "ffmpeg input format")
	fs.StringVar(&cfg.Camera.Device, "camera-device", "/dev/video0", "Default camera device")
	fs.StringVar(&cfg.Camera.RearDevice, "camera-rear", "", "Device for the environment-facing camera")
	fs.IntVar(&cfg.Camera.Quality, "camera-quality", 5, "MJPEG quality, 2 (best) to 31")
	fs.DurationVar(&cfg.Camera.RestartDelay, "camera-restart-delay", 300*time.Millisecond, "Pause between camera stop and start on restart")
	fs.BoolVar(&cfg.Camera.Disabled, "no-camera", false, "Run without a camera")

	fs.StringVar(&cfg.Analysis.Backend, "analyzer", "stub", "Frame analyzer (stub, openai)")
	fs.StringVar(&cfg.Analysis.Model, "openai-model", "gpt-4o-mini", "OpenAI vision model")
	fs.DurationVar(&cfg.Analysis.Timeout, "analysis-timeout", 30*time.Second, "Analysis deadline")
	fs.DurationVar(&cfg.Analysis.StubDelay, "stub-delay", 3*time.Second, "Simulated analysis time of the stub")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := godotenv.Load(cfg.EnvFile); err != nil && !(errors.Is(err, os.ErrNotExist) && !fs.Changed("env")) {
		return Config{}, fmt.Errorf("load %s: %w", cfg.EnvFile, err)
	}

	if err := applyEnv(fs); err != nil {
		return Config{}, err
	}
	cfg.Analysis.APIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))

	return cfg, cfg.validate()
}

// applyEnv fills every flag left unset on the command line from
// VOXSIGHT_<FLAG_NAME>.
func applyEnv(fs *cli.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *cli.Flag) {
		if f.Changed || f.Name == "env" {
			return
		}
		v, ok := os.LookupEnv(EnvName(f.Name))
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		if err := fs.Set(f.Name, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", EnvName(f.Name), err))
		}
	})
	return errors.Join(errs...)
}

// EnvName is the environment variable backing a flag.
func EnvName(flag string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

func (c Config) validate() error {
	if _, ok := logLevelMap[c.LogLevel]; !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	switch c.Analysis.Backend {
	case "stub":
	case "openai":
		if c.Analysis.APIKey == "" {
			return errors.New("OPENAI_API_KEY not set")
		}
	default:
		return fmt.Errorf("unknown analyzer %q", c.Analysis.Backend)
	}
	switch c.Speech.Synth {
	case "espeak", "print":
	default:
		return fmt.Errorf("unknown synth %q", c.Speech.Synth)
	}
	if c.Camera.Quality < 2 || c.Camera.Quality > 31 {
		return fmt.Errorf("camera quality %d out of range 2..31", c.Camera.Quality)
	}
	return nil
}
