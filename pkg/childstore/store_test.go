package childstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/grove/pkg/mangler"
	"github.com/cuemby/grove/pkg/types"
)

func writeChild(t *testing.T, root, dirName, businessName string) {
	t.Helper()
	dir := filepath.Join(root, "jobs", dirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	cfg := childConfig{BusinessName: businessName, State: []byte("opaque")}
	data, err := marshalConfig(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.xml"), data, 0o644))
}

func TestLoad_EmptyRootDir(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()

	children, err := store.Load("team", root)
	require.NoError(t, err)
	assert.Equal(t, 0, children.Len())
}

func TestLoad_LoadsExistingChildren(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()
	writeChild(t, root, "alpha", "alpha")
	writeChild(t, root, "beta", "beta")

	children, err := store.Load("team", root)
	require.NoError(t, err)
	assert.Equal(t, 2, children.Len())

	rec, ok := children.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", rec.DirName)
	assert.Equal(t, []byte("opaque"), rec.Child.State)
}

func TestLoad_SkipsUnreadableChild(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()
	writeChild(t, root, "alpha", "alpha")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "jobs", "broken"), 0o755))
	// no config.xml under "broken"

	children, err := store.Load("team", root)
	require.NoError(t, err)
	assert.Equal(t, 1, children.Len())
}

func TestLoad_LegacyUpgradeRelocatesAndWritesSidecar(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()

	dir := filepath.Join(root, "jobs", "Feature 1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := marshalConfig(childConfig{State: []byte("x")}) // no BusinessName: legacy
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.xml"), data, 0o644))

	children, err := store.Load("team", root)
	require.NoError(t, err)
	require.Equal(t, 1, children.Len())

	var businessName string
	for el := children.Front(); el != nil; el = el.Next() {
		businessName = el.Key
	}
	assert.Equal(t, "Feature 1", businessName)

	rec, ok := children.Get(businessName)
	require.True(t, ok)
	assert.NotEqual(t, "Feature 1", rec.DirName)

	name, ok := mangler.ReadSidecar(filepath.Join(root, "jobs", rec.DirName))
	require.True(t, ok)
	assert.Equal(t, "Feature 1", name)
}

func TestLoad_CollisionOnRelocationSkipsAndWarns(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()

	mangled := mangler.DefaultMangler{}.DirNameFromLegacy("team", "Feature 1")
	// Pre-create the target directory the legacy dir would relocate to.
	writeChild(t, root, mangled, "someone-else")
	writeChild(t, root, "Feature 1", "")

	children, err := store.Load("team", root)
	require.NoError(t, err)
	// Both entries survive: the legacy one keeps its original dir.
	assert.Equal(t, 2, children.Len())
}

func TestPersistChild_WritesConfigAndSidecar(t *testing.T) {
	store := New(mangler.DefaultMangler{})
	root := t.TempDir()

	record := &Record{
		BusinessName: "alpha",
		DirName:      "alpha",
		Child:        &types.Child{BusinessName: "alpha", DirName: "alpha", State: []byte("x")},
		dirty:        true,
	}

	require.NoError(t, store.PersistChild(root, record))

	data, err := os.ReadFile(filepath.Join(root, "jobs", "alpha", "config.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "alpha")

	name, ok := mangler.ReadSidecar(filepath.Join(root, "jobs", "alpha"))
	require.True(t, ok)
	assert.Equal(t, "alpha", name)
}
