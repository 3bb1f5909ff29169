package mangler

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// SidecarFile is the advisory business-name record written alongside a
// child's configuration (spec §4.1). The authoritative source is always the
// child's own stored configuration; this file only helps administrators
// reading the filesystem and cold-load recovery when that configuration is
// silent on the name.
const SidecarFile = "name-utf8.txt"

// ReadSidecar reads the business name recorded in dir/name-utf8.txt. An
// empty file is treated as missing, matching spec §6's sidecar contract.
func ReadSidecar(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, SidecarFile))
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(data))
	if name == "" {
		return "", false
	}
	return name, true
}

// WriteSidecar writes the business name to dir/name-utf8.txt, creating the
// directory if necessary. Called whenever the business name changes.
func WriteSidecar(dir, businessName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, SidecarFile), []byte(businessName+"\n"), 0o644)
}

// ErrUnknownMangler is returned by Registry.Get for a name with no
// registered Mangler.
var ErrUnknownMangler = errors.New("mangler: unknown mangler name")

// Registry maps a configured mangler name to an instance, the explicit
// registry pattern the core's DESIGN NOTES call for in place of reflection-
// based extension lookup.
type Registry struct {
	manglers map[string]Mangler
}

// NewRegistry creates a Registry seeded with the built-in default and
// legacy manglers.
func NewRegistry() *Registry {
	return &Registry{
		manglers: map[string]Mangler{
			"default": DefaultMangler{},
			"legacy":  LegacyMangler{},
		},
	}
}

// Register adds or replaces a named mangler.
func (r *Registry) Register(name string, m Mangler) {
	r.manglers[name] = m
}

// Get looks up a mangler by name.
func (r *Registry) Get(name string) (Mangler, error) {
	m, ok := r.manglers[name]
	if !ok {
		return nil, ErrUnknownMangler
	}
	return m, nil
}
