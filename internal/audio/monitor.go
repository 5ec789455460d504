// Package audio measures the input level of a live audio stream.
package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultInterval = 16 * time.Millisecond
	DefaultWindow   = 2048

	prevWeight = 0.28
	currWeight = 0.72
)

// Analyser exposes the most recent samples of a stream.
type Analyser interface {
	// Window copies the latest samples into buf and returns how many were written.
	Window(buf []float32) int
	Close() error
}

// Source is a live input stream that can have an analyser attached.
type Source interface {
	Attach() (Analyser, error)
	Close() error
}

type session struct {
	src      Source
	analyser Analyser
	cancel   context.CancelFunc
	done     chan struct{}
}

// Monitor samples a Source at a fixed interval and keeps a smoothed RMS level.
// The zero value is ready to use with the default interval and window.
type Monitor struct {
	Interval time.Duration
	Window   int

	mu      sync.Mutex
	current *session
	level   atomic.Uint64
}

// Start attaches to src and begins sampling. A running session is fully torn
// down before the new one starts.
func (m *Monitor) Start(ctx context.Context, src Source) error {
	if src == nil {
		return errors.New("audio: nil source")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.teardown()

	analyser, err := src.Attach()
	if err != nil {
		src.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{src: src, analyser: analyser, cancel: cancel, done: make(chan struct{})}
	m.current = s

	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	size := m.Window
	if size <= 0 {
		size = DefaultWindow
	}
	go m.run(ctx, s, interval, size)
	return nil
}

func (m *Monitor) run(ctx context.Context, s *session, interval time.Duration, size int) {
	defer close(s.done)
	buf := make([]float32, size)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := s.analyser.Window(buf)
			m.publish(Smooth(m.CurrentLevel(), RMS(buf[:n])))
		}
	}
}

// Stop releases every resource of the running session. Calling Stop without
// a running session does nothing.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardown()
}

// teardown must be called with mu held.
func (m *Monitor) teardown() {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil
	s.cancel()
	<-s.done
	s.analyser.Close()
	s.src.Close()
	m.publish(0)
}

// Running reports whether a session is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CurrentLevel returns the latest smoothed level in [0, 1] for full-scale input.
func (m *Monitor) CurrentLevel() float64 {
	return math.Float64frombits(m.level.Load())
}

func (m *Monitor) publish(v float64) {
	m.level.Store(math.Float64bits(v))
}

// RMS returns the root mean square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Smooth applies the exponential filter used for the published level.
func Smooth(prev, current float64) float64 {
	return prevWeight*prev + currWeight*current
}
