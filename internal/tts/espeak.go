package tts

/*
#cgo LDFLAGS: -lespeak-ng
#include <stdlib.h>
#include <string.h>
#include <espeak-ng/speak_lib.h>

static int
vs_init(const char *lang)
{
	if (espeak_Initialize(AUDIO_OUTPUT_SYNCH_PLAYBACK, 500, NULL, 0) < 0)
	{ return -1; }

	espeak_VOICE want;
	memset(&want, 0, sizeof(want));
	want.languages = lang;
	return espeak_SetVoiceByProperties(&want);
}

static int
vs_say(const char *text, int rate, int pitch, int volume)
{
	espeak_SetParameter(espeakRATE, rate, 0);
	espeak_SetParameter(espeakPITCH, pitch, 0);
	espeak_SetParameter(espeakVOLUME, volume, 0);

	espeak_ERROR rc = espeak_Synth(text, strlen(text) + 1, 0, POS_CHARACTER, 0, espeakCHARS_AUTO, NULL, NULL);
	if (rc != EE_OK)
	{ return rc; }

	return espeak_Synchronize();
}

static void vs_cancel(void) { espeak_Cancel(); }
static void vs_close(void) { espeak_Terminate(); }
*/
import "C"

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"
	"unsafe"

	"voxsight/internal/voice"
)

var ErrClosed = errors.New("espeak closed")

// Espeak plays utterances through libespeak-ng on the default output.
// The library is process global, so only one Espeak should exist.
type Espeak struct {
	mu     sync.Mutex
	closed bool
}

func NewEspeak(lang string) (*Espeak, error) {
	clang := C.CString(Voice(lang))
	defer C.free(unsafe.Pointer(clang))

	if rc := C.vs_init(clang); rc != 0 {
		return nil, fmt.Errorf("espeak init %q: %d", lang, int(rc))
	}
	log.Debug("Loaded espeak", "voice", Voice(lang))
	return &Espeak{}, nil
}

func (e *Espeak) Speak(ctx context.Context, u voice.Utterance) error {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	ctext := C.CString(text)
	defer C.free(unsafe.Pointer(ctext))

	stop := context.AfterFunc(ctx, func() { C.vs_cancel() })
	defer stop()

	rate, pitch, volume := Prosody(u)
	rc := C.vs_say(ctext, C.int(rate), C.int(pitch), C.int(volume))
	if err := ctx.Err(); err != nil {
		return err
	}
	if rc != 0 {
		return fmt.Errorf("espeak synth failed: %d", int(rc))
	}
	return nil
}

func (e *Espeak) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		C.vs_close()
	}
}
