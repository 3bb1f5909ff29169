// Package childstore persists children on disk, loads them on start-up,
// and relocates their directories when the configured Name Mangler's output
// changes (spec §4.2).
package childstore

import (
	"os"
	"path/filepath"
	"sort"

	orderedmap "github.com/elliotchance/orderedmap/v2"

	"github.com/cuemby/grove/pkg/log"
	"github.com/cuemby/grove/pkg/mangler"
	"github.com/cuemby/grove/pkg/types"
)

// Record is the in-memory representation of one loaded child: the stable
// business name, the directory name it currently lives under, and the
// opaque state blob owned by the host.
type Record struct {
	BusinessName string
	DirName      string
	Child        *types.Child
	dirty        bool
}

var _ mangler.NameSource = (*Record)(nil)

func (r *Record) StoredItemName() (string, bool) {
	if r.BusinessName == "" {
		return "", false
	}
	return r.BusinessName, true
}

func (r *Record) StoredDirName() (string, bool) {
	if r.DirName == "" {
		return "", false
	}
	return r.DirName, true
}

// Store persists a container's children under rootDir/jobs/<dirName>.
type Store struct {
	mangler mangler.Mangler
}

// New creates a Store using m to translate between business and directory
// names.
func New(m mangler.Mangler) *Store {
	return &Store{mangler: m}
}

// Load walks rootDir/jobs/*/config.xml, builds the business-name→Record
// map, relocating any directory whose name doesn't match the mangler's
// current dirName. Per-child failures are skipped with a warning; the
// overall load never aborts on one bad child (spec §4.2, §7 TransientIO /
// InvariantViolation).
func (s *Store) Load(container, rootDir string) (*orderedmap.OrderedMap[string, *Record], error) {
	jobsDir := filepath.Join(rootDir, "jobs")
	entries, err := os.ReadDir(jobsDir)
	if os.IsNotExist(err) {
		return orderedmap.NewOrderedMap[string, *Record](), nil
	}
	if err != nil {
		return nil, types.NewError(types.KindTransientIO, err)
	}

	logger := log.WithComponent("childstore").With().Str("container", container).Logger()
	result := orderedmap.NewOrderedMap[string, *Record]()

	// Stable iteration order for deterministic tests.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, legacyDirName := range names {
		childDir := filepath.Join(jobsDir, legacyDirName)
		configPath := filepath.Join(childDir, "config.xml")

		data, err := os.ReadFile(configPath)
		if err != nil {
			logger.Warn().Err(err).Str("dir", legacyDirName).Msg("skipping child: config.xml missing or unreadable")
			continue
		}

		cfg, err := unmarshalConfig(data)
		if err != nil {
			logger.Warn().Err(err).Str("dir", legacyDirName).Msg("skipping child: config.xml unparsable")
			continue
		}

		businessName := cfg.BusinessName
		dirty := false
		if businessName == "" {
			if sidecarName, ok := mangler.ReadSidecar(childDir); ok {
				businessName = sidecarName
			} else {
				businessName = s.mangler.ItemNameFromLegacy(container, legacyDirName)
				dirty = true
			}
		}

		wantDir := s.mangler.DirNameFromLegacy(container, businessName)
		actualDir := legacyDirName
		if wantDir != legacyDirName {
			target := filepath.Join(jobsDir, wantDir)
			if _, err := os.Stat(target); err == nil {
				// Target already exists: skip and warn, leave both sides
				// untouched (spec §9 Open Question: inherited legacy
				// behaviour, not fail-the-load).
				logger.Warn().
					Str("dir", legacyDirName).
					Str("want_dir", wantDir).
					Msg("skipping relocation: target directory already exists")
			} else {
				if err := os.Rename(childDir, target); err != nil {
					logger.Warn().Err(err).Str("dir", legacyDirName).Msg("skipping child: relocation failed")
					continue
				}
				childDir = target
				actualDir = wantDir
				dirty = true
			}
		}

		if dirty {
			if err := mangler.WriteSidecar(childDir, businessName); err != nil {
				logger.Warn().Err(err).Str("dir", actualDir).Msg("failed to write name sidecar")
			}
		}

		record := &Record{
			BusinessName: businessName,
			DirName:      actualDir,
			Child: &types.Child{
				BusinessName: businessName,
				DirName:      actualDir,
				State:        cfg.State,
			},
			dirty: dirty,
		}
		result.Set(businessName, record)
	}

	return result, nil
}

// PersistChild writes the name sidecar (if the business name changed) and
// the child's config.xml.
func (s *Store) PersistChild(rootDir string, record *Record) error {
	dir := s.ChildRootDir(rootDir, record)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return types.NewError(types.KindTransientIO, err)
	}

	if record.dirty {
		if err := mangler.WriteSidecar(dir, record.BusinessName); err != nil {
			return types.NewError(types.KindTransientIO, err)
		}
		record.dirty = false
	}

	data, err := marshalConfig(childConfig{BusinessName: record.BusinessName, State: record.Child.State})
	if err != nil {
		return types.NewError(types.KindBug, err)
	}

	tmp := filepath.Join(dir, "config.xml.tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return types.NewError(types.KindTransientIO, err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, "config.xml")); err != nil {
		return types.NewError(types.KindTransientIO, err)
	}
	return nil
}

// ChildRootDir composes rootDir/jobs/<dirName>; it does not create the
// directory (PersistChild does that lazily).
func (s *Store) ChildRootDir(rootDir string, record *Record) string {
	return filepath.Join(rootDir, "jobs", record.DirName)
}
