package orphan

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/grove/pkg/types"
)

func child(lastBuild time.Time, building, kept bool) *types.Child {
	return &types.Child{LastBuildTime: lastBuild, Building: building, Kept: kept}
}

func TestSelectForDeletion_PruneOffReturnsEmpty(t *testing.T) {
	s := DefaultStrategy{Prune: false, NumToKeep: 0, DaysToKeep: 0}
	orphaned := map[string]*types.Child{"a": child(time.Now(), false, false)}
	assert.Empty(t, s.SelectForDeletion("team/app", orphaned, nil))
}

func TestSelectForDeletion_BothUnlimitedReturnsEmpty(t *testing.T) {
	s := DefaultStrategy{Prune: true, NumToKeep: types.UnlimitedRetention, DaysToKeep: types.UnlimitedRetention}
	orphaned := map[string]*types.Child{"a": child(time.Now(), false, false)}
	assert.Empty(t, s.SelectForDeletion("team/app", orphaned, nil))
}

func TestSelectForDeletion_KeepsNewestNumToKeep(t *testing.T) {
	now := time.Now()
	s := DefaultStrategy{Prune: true, NumToKeep: 2, DaysToKeep: types.UnlimitedRetention}
	orphaned := map[string]*types.Child{
		"newest": child(now, false, false),
		"middle": child(now.Add(-time.Hour), false, false),
		"oldest": child(now.Add(-2*time.Hour), false, false),
	}

	out := s.SelectForDeletion("team/app", orphaned, nil)
	assert.Len(t, out, 1)
	_, marked := out["oldest"]
	assert.True(t, marked)
}

func TestSelectForDeletion_NeverDeletesBuildingOrKept(t *testing.T) {
	now := time.Now()
	s := DefaultStrategy{Prune: true, NumToKeep: 0, DaysToKeep: types.UnlimitedRetention}
	orphaned := map[string]*types.Child{
		"building": child(now, true, false),
		"kept":     child(now, false, true),
		"plain":    child(now, false, false),
	}

	out := s.SelectForDeletion("team/app", orphaned, nil)
	assert.Len(t, out, 1)
	_, marked := out["plain"]
	assert.True(t, marked)
}

func TestSelectForDeletion_DaysToKeepAddsOlderEntries(t *testing.T) {
	now := time.Now()
	s := DefaultStrategy{Prune: true, NumToKeep: 10, DaysToKeep: 1}
	orphaned := map[string]*types.Child{
		"recent": child(now, false, false),
		"ancient": child(now.Add(-48*time.Hour), false, false),
	}

	out := s.SelectForDeletion("team/app", orphaned, nil)
	assert.Len(t, out, 1)
	_, marked := out["ancient"]
	assert.True(t, marked)
}

func TestSelectForDeletion_TiesBrokenStablyByName(t *testing.T) {
	now := time.Now()
	s := DefaultStrategy{Prune: true, NumToKeep: 1, DaysToKeep: types.UnlimitedRetention}
	orphaned := map[string]*types.Child{
		"b-zero": child(now, false, false),
		"a-zero": child(now, false, false),
	}

	out := s.SelectForDeletion("team/app", orphaned, nil)
	assert.Len(t, out, 1)
	// a-zero sorts before b-zero on a tie, so it is the one kept.
	_, marked := out["b-zero"]
	assert.True(t, marked)
}

func TestSelectForDeletion_LogsReasonsToListener(t *testing.T) {
	now := time.Now()
	s := DefaultStrategy{Prune: true, NumToKeep: 0, DaysToKeep: types.UnlimitedRetention}
	orphaned := map[string]*types.Child{"kept": child(now, true, false)}

	var buf bytes.Buffer
	s.SelectForDeletion("team/app", orphaned, &buf)
	assert.Contains(t, buf.String(), "build in progress")
}
