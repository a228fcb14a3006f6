// Package audioconv decodes audio files into mono 16 kHz float32 samples.
package audioconv

import (
	"bufio"
	"cmp"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

type Options struct {
	MaxSamples int
}

type Format string

const (
	FormatWAV     Format = "wav"
	FormatMP3     Format = "mp3"
	FormatOgg     Format = "ogg"
	FormatUnknown Format = ""
)

// Extensions lists the file extensions Decode understands.
var Extensions = []string{".wav", ".mp3", ".ogg", ".oga", ".opus"}

func ConvertFileToPCM16k(_ context.Context, path string, opt Options) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format := formatFromExt(filepath.Ext(path))
	if format == FormatUnknown {
		if format, err = Sniff(f); err != nil {
			return nil, err
		}
	}

	pcm, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if opt.MaxSamples > 0 && len(pcm) > opt.MaxSamples {
		pcm = pcm[:opt.MaxSamples]
	}
	return pcm, nil
}

// Sniff looks at the magic bytes and rewinds r.
func Sniff(r io.ReadSeeker) (Format, error) {
	magic, _ := bufio.NewReader(r).Peek(4)
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return FormatUnknown, err
	}
	switch {
	case string(magic) == "RIFF":
		return FormatWAV, nil
	case string(magic) == "OggS":
		return FormatOgg, nil
	case len(magic) >= 3 && (string(magic[:3]) == "ID3" || magic[0] == 0xff && magic[1]&0xe0 == 0xe0):
		return FormatMP3, nil
	}
	return FormatUnknown, fmt.Errorf("unsupported format (supported: %s)", strings.Join(Extensions, ", "))
}

func formatFromExt(ext string) Format {
	switch strings.ToLower(ext) {
	case ".wav":
		return FormatWAV
	case ".mp3":
		return FormatMP3
	case ".ogg", ".oga", ".opus":
		return FormatOgg
	}
	return FormatUnknown
}

// Decode reads a whole stream of the given format. Ogg streams are tried as
// Vorbis first, then Opus.
func Decode(r io.ReadSeeker, format Format) ([]float32, error) {
	switch format {
	case FormatWAV:
		return decodeWAV(r)
	case FormatMP3:
		return decodeMP3(r)
	case FormatOgg:
		pcm, verr := decodeOggVorbis(r)
		if verr == nil {
			return pcm, nil
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		pcm, oerr := decodeOggOpus(r)
		if oerr != nil {
			return nil, fmt.Errorf("ogg is neither vorbis (%v) nor opus: %w", verr, oerr)
		}
		return pcm, nil
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}

func decodeWAV(r io.ReadSeeker) ([]float32, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	switch {
	case err != nil:
		return nil, err
	case buf == nil || len(buf.Data) == 0:
		return nil, errors.New("empty wav")
	}

	bits, channels, rate := int(dec.BitDepth), 1, 44100
	if bits == 0 {
		bits = 16
	}
	if f := buf.Format; f != nil {
		channels = cmp.Or(f.NumChannels, channels)
		rate = cmp.Or(f.SampleRate, rate)
	}
	return toMono16k(toFloat(buf.Data, bits), channels, rate), nil
}

// decodeMP3 relies on go-mp3 always producing 16-bit little-endian stereo.
func decodeMP3(r io.Reader) ([]float32, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}
	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[2*i:]))
	}
	return toMono16k(toFloat(samples, 16), 2, cmp.Or(dec.SampleRate(), 44100)), nil
}

func decodeOggVorbis(r io.Reader) ([]float32, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return nil, errors.New("invalid ogg/vorbis stream")
	}
	return toMono16k(pcm, format.Channels, format.SampleRate), nil
}

func decodeOggOpus(r io.ReadSeeker) ([]float32, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return nil, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opus decodes at 48 kHz, about half a second per read
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			pcm48 = append(pcm48, toFloat(buf[:n*ch], 16)...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if len(pcm48) == 0 {
		return nil, errors.New("empty opus stream")
	}
	return toMono16k(pcm48, ch, 48000), nil
}

// toMono16k downmixes interleaved samples and resamples them to TargetRate.
func toMono16k(x []float32, channels, rate int) []float32 {
	return resample(downmix(x, channels), rate, TargetRate)
}

type pcmInt interface{ ~int | ~int16 }

// toFloat scales signed samples of the given bit depth into [-1, 1].
func toFloat[T pcmInt](data []T, bits int) []float32 {
	full := float32(int64(1) << (bits - 1))
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = max(-1, min(1, float32(v)/full))
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var acc float32
		for _, s := range in[i*channels : (i+1)*channels] {
			acc += s
		}
		out[i] = acc / float32(channels)
	}
	return out
}

// resample interpolates linearly; positions past the last sample repeat it.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	step := float64(from) / float64(to)
	out := make([]float32, int(math.Ceil(float64(len(in))/step)))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
