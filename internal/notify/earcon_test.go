package notify

import (
	"math"
	"testing"
	"time"

	"github.com/faiface/beep"
	"github.com/stretchr/testify/assert"
)

func TestChimeLengthAndLevel(t *testing.T) {
	t.Parallel()

	sr := beep.SampleRate(8000)
	s := Chime(sr)

	buf := make([][2]float64, 97)
	total := 0
	peak := 0.0
	for {
		n, ok := s.Stream(buf)
		if !ok {
			break
		}
		for _, smp := range buf[:n] {
			assert.Equal(t, smp[0], smp[1])
			peak = math.Max(peak, math.Abs(smp[0]))
		}
		total += n
	}

	assert.Equal(t, 2*sr.N(90*time.Millisecond), total)
	assert.LessOrEqual(t, peak, chimeGain)
	assert.Greater(t, peak, 0.0)
}

func TestEarconMissingFile(t *testing.T) {
	t.Parallel()

	e := NewEarcon("/nonexistent/earcon.mp3")
	_, _, err := e.source()
	assert.ErrorContains(t, err, "open earcon")
}
