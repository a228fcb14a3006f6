package tts

import (
	"math"
	"strings"

	"voxsight/internal/voice"
)

const (
	baseRate   = 175 // words per minute
	basePitch  = 50
	baseVolume = 100
)

// Prosody maps 1.0-is-normal utterance parameters onto espeak's scales.
func Prosody(u voice.Utterance) (rate, pitch, volume int) {
	rate = scale(u.Rate, baseRate, 80, 450)
	pitch = scale(u.Pitch, basePitch, 0, 100)
	volume = scale(u.Volume, baseVolume, 0, 200)
	return rate, pitch, volume
}

func scale(f float64, base, lo, hi int) int {
	if f <= 0 {
		f = 1
	}
	v := int(math.Round(f * float64(base)))
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Voice turns a BCP 47 tag into an espeak voice name, "en-US" -> "en-us".
func Voice(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return "en"
	}
	return strings.ReplaceAll(tag, "_", "-")
}
