// Package voice runs the speak/listen turn loop and maps finalized
// utterances onto assistant modes.
package voice

import (
	"context"
	"errors"
	"time"

	"voxsight/internal/camera"
	"voxsight/internal/command"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseSpeaking   Phase = "speaking"
)

// Utterance is one piece of text to synthesize. Rate, Pitch and Volume use
// the 1.0-is-normal scale.
type Utterance struct {
	Text   string
	Rate   float64
	Pitch  float64
	Volume float64
}

// Synthesizer speaks u and returns once playback has finished.
type Synthesizer interface {
	Speak(ctx context.Context, u Utterance) error
}

// Result is one recognition event. A non-nil Err ends the session.
type Result struct {
	Text  string
	Final bool
	Err   error
}

// Recognition is a running recognition session. Results is closed when the
// session ends; Stop may be called more than once.
type Recognition interface {
	Results() <-chan Result
	Stop()
}

type Recognizer interface {
	Listen(ctx context.Context, lang string) (Recognition, error)
}

type RecognitionErrorKind string

const (
	RecognitionUnsupported      RecognitionErrorKind = "unsupported"
	RecognitionPermissionDenied RecognitionErrorKind = "permission_denied"
	RecognitionNoSpeech         RecognitionErrorKind = "no_speech"
	RecognitionAborted          RecognitionErrorKind = "aborted"
	RecognitionAudioCapture     RecognitionErrorKind = "audio_capture"
	RecognitionNetwork          RecognitionErrorKind = "network"
)

type RecognitionError struct {
	Kind RecognitionErrorKind
	Err  error
}

func (e *RecognitionError) Error() string {
	if e.Err == nil {
		return "recognition: " + string(e.Kind)
	}
	return "recognition: " + string(e.Kind) + ": " + e.Err.Error()
}

func (e *RecognitionError) Unwrap() error { return e.Err }

// Transient errors leave the loop eligible to listen again.
func (e *RecognitionError) Transient() bool {
	switch e.Kind {
	case RecognitionNoSpeech, RecognitionAborted:
		return true
	}
	return false
}

// AsRecognitionError classifies err; unknown errors count as aborted.
func AsRecognitionError(err error) *RecognitionError {
	var re *RecognitionError
	if errors.As(err, &re) {
		return re
	}
	return &RecognitionError{Kind: RecognitionAborted, Err: err}
}

// Camera is the part of the capture manager the turn loop drives.
type Camera interface {
	Start(ctx context.Context) error
	Stop()
	Session() camera.Session
}

type FrameSource interface {
	Latest() ([]byte, time.Time, bool)
}

// Cue signals the user that the microphone is open.
type Cue interface {
	Listening()
}

type Listener interface {
	VoiceChanged(s Status)
}

type ListenerFunc func(Status)

func (f ListenerFunc) VoiceChanged(s Status) { f(s) }

type ErrorCode string

const (
	ErrorPlaybackFailed         ErrorCode = "playback_failed"
	ErrorRecognitionUnsupported ErrorCode = "recognition_unsupported"
	ErrorRecognitionDenied      ErrorCode = "recognition_permission_denied"
	ErrorRecognitionTransient   ErrorCode = "recognition_transient"
	ErrorRecognitionAudio       ErrorCode = "recognition_audio_capture"
	ErrorAnalysisFailed         ErrorCode = "analysis_failed"
)

// Status is a snapshot of the turn loop.
type Status struct {
	Phase           Phase        `json:"phase"`
	Transcript      string       `json:"transcript,omitempty"`
	LastCommand     string       `json:"lastCommand,omitempty"`
	Mode            command.Mode `json:"mode"`
	CameraRequested bool         `json:"cameraRequested"`
	Result          string       `json:"result,omitempty"`
	Speaking        string       `json:"speaking,omitempty"`
	Pending         string       `json:"pending,omitempty"`
	AutoListen      bool         `json:"autoListen"`
	Error           ErrorCode    `json:"error,omitempty"`
	ErrorDetail     string       `json:"errorDetail,omitempty"`
}
