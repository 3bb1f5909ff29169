// Package eventlog implements the rotating, multi-producer, batching
// append-only log a Computed Container uses to record out-of-band activity
// between scheduled Computations (spec §4.3).
package eventlog

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/metrics"
)

const (
	// StreamBufferSize is the per-stream line-alignment buffer.
	StreamBufferSize = 1024
	// DefaultFlushSize is the pending-bytes flush trigger.
	DefaultFlushSize = 1024
	// DefaultFlushInterval is the elapsed-time flush trigger.
	DefaultFlushInterval = 250 * time.Millisecond
	// DefaultRotateSize is the file-size rotation trigger.
	DefaultRotateSize = 32 * 1024

	// maxPendingBytes bounds the shared queue; beyond this, Write reports
	// "buffer full" to the producer instead of growing unboundedly.
	maxPendingBytes = 256 * 1024
)

// ErrBufferFull is returned by a Stream's Write when the writer's shared
// pending queue is saturated.
var ErrBufferFull = errors.New("eventlog: buffer full")

// TargetFunc resolves the current target file path and whether writing is
// permitted right now — the host may say no, e.g. while the owning
// container is being moved on disk — in which case the flush is silently
// deferred (spec §4.3).
type TargetFunc func() (path string, permitted bool)

// Config tunes a Writer's flush/rotation behavior.
type Config struct {
	FlushSize     int
	FlushInterval time.Duration
	RotateSize    int64
	FileCount     int // backup files retained; 0 disables rotation
}

// DefaultConfig returns a Config with the documented defaults.
func DefaultConfig() Config {
	return Config{
		FlushSize:     DefaultFlushSize,
		FlushInterval: DefaultFlushInterval,
		RotateSize:    DefaultRotateSize,
		FileCount:     0,
	}
}

// Writer is the single-consumer flush side of the event log: it owns the
// write lock, the pending byte queue and the rotation policy. Multiple
// Streams enqueue into one Writer.
type Writer struct {
	target TargetFunc
	cfg    Config

	mu             sync.Mutex
	pending        bytes.Buffer
	appendNextOpen bool
	closed         bool

	stopCh chan struct{}
	wg     sync.WaitGroup

	warnedOnce sync.Once
}

// NewWriter creates a Writer targeting whatever TargetFunc resolves to, and
// starts its background flush-interval goroutine.
func NewWriter(target TargetFunc, cfg Config) *Writer {
	if cfg.FlushSize <= 0 {
		cfg.FlushSize = DefaultFlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.RotateSize <= 0 {
		cfg.RotateSize = DefaultRotateSize
	}

	w := &Writer{target: target, cfg: cfg, stopCh: make(chan struct{})}
	w.wg.Add(1)
	go w.intervalLoop()
	return w
}

func (w *Writer) intervalLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.flush("interval")
		case <-w.stopCh:
			w.flush("sentinel")
			return
		}
	}
}

// Close stops the interval loop after a final flush. Idempotent.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	close(w.stopCh)
	w.wg.Wait()
}

// OpenStream returns a new write stream. Multiple streams may be open
// concurrently (spec: multi-producer, single-consumer).
func (w *Writer) OpenStream() *Stream {
	return &Stream{writer: w}
}

func (w *Writer) enqueue(line []byte) error {
	w.mu.Lock()
	if w.pending.Len()+len(line) > maxPendingBytes {
		w.mu.Unlock()
		return ErrBufferFull
	}
	w.pending.Write(line)
	shouldFlush := w.pending.Len() >= w.cfg.FlushSize
	w.mu.Unlock()

	if shouldFlush {
		w.flush("size")
	}
	return nil
}

// flush drains the pending queue to the target file. I/O errors are logged
// once and swallowed — they must never break producers (spec §4.3, §7).
// trigger labels the metric: "size", "interval" or "sentinel".
func (w *Writer) flush(trigger string) {
	metrics.EventLogFlushTotal.WithLabelValues(trigger).Inc()
	w.mu.Lock()
	if w.pending.Len() == 0 {
		w.mu.Unlock()
		return
	}
	data := make([]byte, w.pending.Len())
	copy(data, w.pending.Bytes())
	w.pending.Reset()
	w.mu.Unlock()

	path, permitted := w.target()
	if !permitted {
		// Re-queue: the write lock serializes this with concurrent
		// enqueues, so prepending is safe.
		w.mu.Lock()
		merged := append(append([]byte{}, data...), w.pending.Bytes()...)
		w.pending.Reset()
		w.pending.Write(merged)
		w.mu.Unlock()
		return
	}

	if err := w.writeAndRotate(path, data); err != nil {
		w.warnedOnce.Do(func() {
			log.WithComponent("eventlog").Warn().Err(err).Str("path", path).Msg("event log flush failed")
		})
	}
}

func (w *Writer) writeAndRotate(path string, data []byte) error {
	needRotate := !w.appendNextOpen
	if !needRotate {
		if info, err := os.Stat(path); err == nil && info.Size() > w.cfg.RotateSize {
			needRotate = true
		}
	}
	if needRotate {
		if err := Rotate(path, w.cfg.FileCount); err != nil && !os.IsNotExist(err) {
			return err
		}
		metrics.EventLogRotationsTotal.Inc()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}
	w.appendNextOpen = true
	return nil
}

// Rotate renames path -> path.1, path.1 -> path.2, ..., dropping files
// beyond fileCount (spec §4.3). fileCount == 0 disables rotation entirely
// (the primary file is simply removed). Exported so pkg/computation can
// reuse the same policy for computation.log (spec §4.5 step 1).
func Rotate(path string, fileCount int) error {
	return rotate(path, fileCount)
}

func rotate(path string, fileCount int) error {
	if fileCount <= 0 {
		return os.Remove(path)
	}
	oldest := fmt.Sprintf("%s.%d", path, fileCount)
	_ = os.Remove(oldest)

	for i := fileCount - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", path, i)
		dst := fmt.Sprintf("%s.%d", path, i+1)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, dst); err != nil {
				return err
			}
		}
	}
	if _, err := os.Stat(path); err == nil {
		return os.Rename(path, path+".1")
	}
	return nil
}

// Stream is a per-producer write handle. It line-aligns its flushes: a
// partial line stays buffered, complete lines are handed to the Writer's
// shared queue.
type Stream struct {
	writer *Writer
	buf    []byte
	mu     sync.Mutex
	closed bool
}

// Write implements io.Writer, buffering up to StreamBufferSize bytes and
// enqueueing complete lines as they accumulate.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.New("eventlog: stream closed")
	}

	s.buf = append(s.buf, p...)
	if len(s.buf) > StreamBufferSize {
		// Force a line boundary at the buffer cap rather than growing
		// unbounded; the producer gets a truncated line rather than a
		// blocked write.
		if err := s.writer.enqueue(s.buf); err != nil {
			s.buf = s.buf[:0]
			return 0, err
		}
		s.buf = s.buf[:0]
		return len(p), nil
	}

	for {
		idx := bytes.IndexByte(s.buf, '\n')
		if idx < 0 {
			break
		}
		line := s.buf[:idx+1]
		if err := s.writer.enqueue(line); err != nil {
			return 0, err
		}
		s.buf = s.buf[idx+1:]
	}
	return len(p), nil
}

// Close flushes any partial line and triggers an explicit flush of the
// writer's queue (an explicit null sentinel trigger). Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	remainder := s.buf
	s.buf = nil
	s.mu.Unlock()

	if len(remainder) > 0 {
		if err := s.writer.enqueue(remainder); err != nil {
			return err
		}
	}
	s.writer.flush("sentinel")
	return nil
}
