package mangler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChild struct {
	itemName string
	hasItem  bool
	dirName  string
	hasDir   bool
}

func (c fakeChild) StoredItemName() (string, bool) { return c.itemName, c.hasItem }
func (c fakeChild) StoredDirName() (string, bool)  { return c.dirName, c.hasDir }

func TestDefaultMangler_PrefersStoredMetadata(t *testing.T) {
	m := DefaultMangler{}
	child := fakeChild{itemName: "Feature/1", hasItem: true, dirName: "feature-1", hasDir: true}

	name, ok := m.ItemName("team", child)
	require.True(t, ok)
	assert.Equal(t, "Feature/1", name)

	dir, ok := m.DirName("team", child)
	require.True(t, ok)
	assert.Equal(t, "feature-1", dir)
}

func TestDefaultMangler_LegacyUpgradeRoundTrip(t *testing.T) {
	m := DefaultMangler{}

	dir := m.DirNameFromLegacy("team", "Feature/1")
	assert.LessOrEqual(t, len(dir), MaxDirNameLength)
	assert.NotContains(t, dir, "/")

	name := m.ItemNameFromLegacy("team", "Feature/1")
	assert.Equal(t, "Feature1", name)
}

func TestDefaultMangler_ReservedNameDisambiguated(t *testing.T) {
	m := DefaultMangler{}
	dir := m.DirNameFromLegacy("team", "CON")
	assert.NotEqual(t, "CON", dir)
}

func TestDefaultMangler_TruncatesToMaxLength(t *testing.T) {
	m := DefaultMangler{}
	long := ""
	for i := 0; i < 100; i++ {
		long += "a"
	}
	dir := m.DirNameFromLegacy("team", long)
	assert.LessOrEqual(t, len(dir), MaxDirNameLength)
}

func TestDefaultMangler_NFCNFDInsensitive(t *testing.T) {
	m := DefaultMangler{}
	// "café" in NFC vs NFD form should mangle identically.
	nfc := "café"
	nfd := "café"

	assert.Equal(t, m.DirNameFromLegacy("team", nfc), m.DirNameFromLegacy("team", nfd))
}

func TestLegacyMangler_Identity(t *testing.T) {
	m := LegacyMangler{}
	assert.Equal(t, "Some/Weird Name", m.ItemNameFromLegacy("team", "Some/Weird Name"))
	assert.Equal(t, "Some/Weird Name", m.DirNameFromLegacy("team", "Some/Weird Name"))
}

func TestRegistry_DefaultsRegistered(t *testing.T) {
	r := NewRegistry()

	m, err := r.Get("default")
	require.NoError(t, err)
	assert.IsType(t, DefaultMangler{}, m)

	_, err = r.Get("nonexistent")
	assert.ErrorIs(t, err, ErrUnknownMangler)
}

func TestSidecar_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	_, ok := ReadSidecar(dir)
	assert.False(t, ok)

	require.NoError(t, WriteSidecar(dir, "Feature/1"))

	name, ok := ReadSidecar(dir)
	require.True(t, ok)
	assert.Equal(t, "Feature/1", name)
}

func TestSidecar_EmptyFileTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SidecarFile), []byte(""), 0o644))

	_, ok := ReadSidecar(dir)
	assert.False(t, ok)
}
