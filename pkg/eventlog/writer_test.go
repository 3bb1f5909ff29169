package eventlog

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticTarget(path string) TargetFunc {
	return func() (string, bool) { return path, true }
}

func TestWriter_FlushOnSentinelClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	w := NewWriter(staticTarget(path), DefaultConfig())
	defer w.Close()

	s := w.OpenStream()
	_, err := s.Write([]byte("hello\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestWriter_PartialLineHeldUntilNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	w := NewWriter(staticTarget(path), DefaultConfig())
	defer w.Close()

	s := w.OpenStream()
	_, err := s.Write([]byte("partial"))
	require.NoError(t, err)
	w.flush("interval")

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no flush should occur before a full line or close")

	_, err = s.Write([]byte(" line\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "partial line\n", string(data))
}

func TestWriter_FlushesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	cfg := DefaultConfig()
	cfg.FlushSize = 8
	w := NewWriter(staticTarget(path), cfg)
	defer w.Close()

	s := w.OpenStream()
	_, err := s.Write([]byte("123456789\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestWriter_DeferredWhenNotPermitted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	var permitted atomic.Bool
	target := func() (string, bool) { return path, permitted.Load() }

	w := NewWriter(target, DefaultConfig())
	defer w.Close()

	s := w.OpenStream()
	_, err := s.Write([]byte("deferred\n"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	permitted.Store(true)
	w.flush("interval")

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && len(data) > 0
	}, time.Second, 5*time.Millisecond)
}

func TestWriter_RotatesOnSizeThreshold(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	cfg := DefaultConfig()
	cfg.RotateSize = 4
	cfg.FileCount = 2
	cfg.FlushSize = 1
	w := NewWriter(staticTarget(path), cfg)
	defer w.Close()

	s := w.OpenStream()
	for i := 0; i < 5; i++ {
		_, err := s.Write([]byte("xxxxx\n"))
		require.NoError(t, err)
		w.flush("interval")
	}
	require.NoError(t, s.Close())

	_, err := os.Stat(path + ".1")
	assert.NoError(t, err, "expected at least one rotated backup")
}

func TestStream_BufferFullReportsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	w := NewWriter(func() (string, bool) { return path, false }, DefaultConfig())
	defer w.Close()

	s := w.OpenStream()
	big := make([]byte, maxPendingBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	big[len(big)-1] = '\n'

	_, err := s.Write(big)
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")
	w := NewWriter(staticTarget(path), DefaultConfig())
	defer w.Close()

	s := w.OpenStream()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
