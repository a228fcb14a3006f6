package camera

import (
	"bufio"
	"bytes"
	"io"
	log "log/slog"
	"sync"
	"time"
)

// FrameSource is implemented by streams that expose an MJPEG byte stream.
type FrameSource interface {
	Frames() io.Reader
}

// FrameBuffer is a preview Surface that keeps the most recent JPEG frame of
// the attached stream.
type FrameBuffer struct {
	mu       sync.Mutex
	attached uint64
	frame    []byte
	at       time.Time
	count    int
}

func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

func (b *FrameBuffer) Attach(stream Stream) error {
	b.mu.Lock()
	b.attached++
	id := b.attached
	b.frame = nil
	b.at = time.Time{}
	b.count = 0
	b.mu.Unlock()

	src, ok := stream.(FrameSource)
	if !ok {
		return nil
	}

	go b.consume(id, src.Frames())
	return nil
}

// Detach drops the current frame. The reader goroutine ends once the
// stream's tracks are stopped.
func (b *FrameBuffer) Detach() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attached++
	b.frame = nil
	b.at = time.Time{}
}

// Latest returns a copy of the newest frame.
func (b *FrameBuffer) Latest() ([]byte, time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frame == nil {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), b.frame...), b.at, true
}

func (b *FrameBuffer) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

func (b *FrameBuffer) consume(id uint64, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 256*1024), 16*1024*1024)
	sc.Split(splitJPEG)

	for sc.Scan() {
		frame := append([]byte(nil), sc.Bytes()...)

		b.mu.Lock()
		if b.attached != id {
			b.mu.Unlock()
			return
		}
		b.frame = frame
		b.at = time.Now()
		b.count++
		b.mu.Unlock()
	}

	if err := sc.Err(); err != nil {
		log.Debug("Frame reader stopped", "err", err)
	}
}

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// splitJPEG is a bufio.SplitFunc yielding whole JPEG images from a
// concatenated MJPEG stream.
func splitJPEG(data []byte, atEOF bool) (int, []byte, error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// keep a trailing 0xFF, it may begin the next marker
		if len(data) > 1 {
			return len(data) - 1, nil, nil
		}
		return 0, nil, nil
	}

	end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
	if end < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + len(jpegSOI) + end + len(jpegEOI)
	return stop, data[start:stop], nil
}
