package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

// Ring is a Source fed with pushed samples, for streams that arrive over the
// network instead of from a local device.
type Ring struct {
	mu     sync.Mutex
	buf    []float32
	next   int
	filled bool
	closed bool
}

func NewRing(size int) *Ring {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Ring{buf: make([]float32, size)}
}

// Write appends samples, overwriting the oldest ones.
func (r *Ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for _, s := range samples {
		r.buf[r.next] = s
		r.next++
		if r.next == len(r.buf) {
			r.next = 0
			r.filled = true
		}
	}
}

// WritePCM decodes little-endian float32 samples and appends them.
func (r *Ring) WritePCM(p []byte) error {
	if len(p)%4 != 0 {
		return errors.New("audio: pcm frame length not a multiple of 4")
	}
	samples := make([]float32, len(p)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	r.Write(samples)
	return nil
}

func (r *Ring) Attach() (Analyser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("audio: ring closed")
	}
	return ringAnalyser{r}, nil
}

func (r *Ring) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

type ringAnalyser struct{ r *Ring }

func (a ringAnalyser) Window(dst []float32) int {
	r := a.r
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.filled {
		size = len(r.buf)
	}
	if size > len(dst) {
		size = len(dst)
	}
	// Copy the newest size samples in chronological order.
	start := r.next - size
	for i := 0; i < size; i++ {
		idx := start + i
		if idx < 0 {
			idx += len(r.buf)
		}
		dst[i] = r.buf[idx]
	}
	return size
}

func (a ringAnalyser) Close() error { return nil }
