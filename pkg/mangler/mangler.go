// Package mangler bridges business names (stable, user-visible child
// identifiers) and directory names (filesystem-safe, mangled) under the
// portable-subset constraints every on-disk child name must satisfy.
package mangler

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxDirNameLength is the longest directory name a mangler may emit.
const MaxDirNameLength = 32

var reservedNames = map[string]bool{
	"AUX": true, "CON": true, "NUL": true, "PRN": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	".": true, "..": true,
}

// NameSource is the minimal view of a Child a Mangler needs: its currently
// stored business name and directory name, if any.
type NameSource interface {
	StoredItemName() (string, bool)
	StoredDirName() (string, bool)
}

// Mangler implements the four-operation contract every business-name ↔
// directory-name translator must provide. Implementations must be
// deterministic and stable across restarts.
type Mangler interface {
	// ItemName returns the stored business name if present on child.
	ItemName(container string, child NameSource) (string, bool)
	// DirName returns the mangled directory name if stored, else false.
	DirName(container string, child NameSource) (string, bool)
	// ItemNameFromLegacy derives a business name for a pre-existing legacy
	// directory that carries no stored metadata.
	ItemNameFromLegacy(container, legacyDirName string) string
	// DirNameFromLegacy derives the directory name side of the same
	// operation.
	DirNameFromLegacy(container, legacyDirName string) string
}

// DefaultMangler maps arbitrary business names onto the portable subset
// A-Za-z0-9_.- , capped at MaxDirNameLength, rejecting reserved names,
// insensitive to NFC/NFD normalization (spec §4.1).
type DefaultMangler struct{}

var _ Mangler = DefaultMangler{}

func (DefaultMangler) ItemName(_ string, child NameSource) (string, bool) {
	return child.StoredItemName()
}

func (DefaultMangler) DirName(_ string, child NameSource) (string, bool) {
	return child.StoredDirName()
}

func (DefaultMangler) ItemNameFromLegacy(_, legacyDirName string) string {
	name := sanitizeBusinessName(legacyDirName)
	if name == "" || name == "." || name == ".." {
		name = "item"
	}
	return name
}

func (m DefaultMangler) DirNameFromLegacy(container, legacyDirName string) string {
	return mangle(legacyDirName)
}

// sanitizeBusinessName strips characters that would make a legacy directory
// name unsafe to surface as-is ( / ? # [ ] \ ), per spec §4.1.
func sanitizeBusinessName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '/', '?', '#', '[', ']', '\\':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// mangle deterministically maps any business name to a portable-subset
// directory name: NFC-normalize, replace disallowed runes with '_', truncate
// to MaxDirNameLength, and disambiguate reserved names with a trailing '_'.
func mangle(name string) string {
	normalized := norm.NFC.String(name)

	var b strings.Builder
	for _, r := range normalized {
		if isPortable(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	mangled := b.String()

	mangled = strings.TrimRight(mangled, ".")
	if mangled == "" {
		mangled = "_"
	}
	if len(mangled) > MaxDirNameLength {
		mangled = mangled[:MaxDirNameLength]
	}

	upper := strings.ToUpper(mangled)
	base := strings.TrimSuffix(upper, filepathExt(upper))
	if reservedNames[base] || reservedNames[upper] {
		mangled += "_"
		if len(mangled) > MaxDirNameLength {
			mangled = mangled[:MaxDirNameLength-1] + "_"
		}
	}
	return mangled
}

func filepathExt(s string) string {
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		return s[i:]
	}
	return ""
}

func isPortable(r rune) bool {
	switch {
	case unicode.IsLetter(r) && r < unicode.MaxASCII:
		return true
	case unicode.IsDigit(r) && r < unicode.MaxASCII:
		return true
	case r == '_' || r == '.' || r == '-':
		return true
	default:
		return false
	}
}

// LegacyMangler is the degenerate identity mangler: every operation returns
// its input unchanged, no sidecar file is ever needed.
type LegacyMangler struct{}

var _ Mangler = LegacyMangler{}

func (LegacyMangler) ItemName(_ string, child NameSource) (string, bool) {
	return child.StoredItemName()
}

func (LegacyMangler) DirName(_ string, child NameSource) (string, bool) {
	return child.StoredDirName()
}

func (LegacyMangler) ItemNameFromLegacy(_, legacyDirName string) string {
	return legacyDirName
}

func (LegacyMangler) DirNameFromLegacy(_, legacyDirName string) string {
	return legacyDirName
}
