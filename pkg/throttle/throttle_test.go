package throttle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLimit_NeverExceedsFive(t *testing.T) {
	assert.LessOrEqual(t, DefaultLimit(), 5)
	assert.Greater(t, DefaultLimit(), 0)
}

func TestCanRun_AdmitsUpToLimit(t *testing.T) {
	running := 0
	th := New(3, func() int { return running })

	for i := 0; i < 3; i++ {
		blocked, _ := th.CanRun(keyFor(i))
		require.False(t, blocked, "admission %d should be allowed", i)
	}

	blocked, reason := th.CanRun("fourth")
	assert.True(t, blocked)
	assert.Equal(t, "max concurrent indexing", reason)
}

func TestCanRun_SameKeyWithinWindowIsIdempotent(t *testing.T) {
	th := New(1, func() int { return 0 })

	blocked, _ := th.CanRun("alpha")
	require.False(t, blocked)

	// Repeated checks for the same already-admitted key never count twice
	// against the limit.
	for i := 0; i < 5; i++ {
		blocked, _ = th.CanRun("alpha")
		assert.False(t, blocked)
	}
}

func TestCanRun_EntriesExpireAfterWindow(t *testing.T) {
	th := New(1, func() int { return 0 })

	blocked, _ := th.CanRun("alpha")
	require.False(t, blocked)

	blocked, _ = th.CanRun("beta")
	assert.True(t, blocked, "beta should be blocked while alpha is still within the window")

	time.Sleep(admissionWindow + 50*time.Millisecond)
	blocked, _ = th.CanRun("beta")
	assert.False(t, blocked, "beta should be admitted once alpha's entry has expired")
}

func TestCanRun_CountsCurrentlyRunningAgainstLimit(t *testing.T) {
	th := New(2, func() int { return 3 })
	blocked, _ := th.CanRun("alpha")
	assert.True(t, blocked, "no room left once currently-running already exceeds the limit")
}

func TestCanRun_AdmitsWhenCurrentlyRunningExactlyAtLimit(t *testing.T) {
	th := New(2, func() int { return 2 })
	blocked, _ := th.CanRun("alpha")
	assert.False(t, blocked, "currentlyRunning + approved == LIMIT is not > LIMIT, so it is admitted")
}

func keyFor(i int) string {
	return string(rune('a' + i))
}
