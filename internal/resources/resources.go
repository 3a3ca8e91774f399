// Package resources provides the compiled modules bundled with the patcher:
// fingerprints of known upstream modules, their replacements and the extra
// classes injected into the API jar.
package resources

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
)

var (
	// ErrResourceMissing means the bundle lacks a resource the patcher needs,
	// which is a packaging defect rather than a user error.
	ErrResourceMissing = errors.New("bundled resource missing")
	// ErrNoMatchingVariant is returned when a module matches none of the known
	// upstream fingerprints.
	ErrNoMatchingVariant = errors.New("no known variant matches")
)

//go:embed bundle
var bundle embed.FS

// Provider loads bundled resources by logical name.
type Provider interface {
	Resource(name string) ([]byte, error)
}

// FSProvider serves resources from a directory of an fs.FS.
type FSProvider struct {
	FS  fs.FS
	Dir string
}

// Embedded returns the provider backed by the resources compiled into the binary.
func Embedded() *FSProvider {
	return &FSProvider{FS: bundle, Dir: "bundle"}
}

func (p *FSProvider) Resource(name string) ([]byte, error) {
	b, err := fs.ReadFile(p.FS, path.Join(p.Dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrResourceMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading resource %s: %w", name, err)
	}
	return b, nil
}

// MapProvider serves resources from memory, mostly for tests.
type MapProvider map[string][]byte

func (p MapProvider) Resource(name string) ([]byte, error) {
	b, ok := p[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrResourceMissing, name)
	}
	// Callers are free to modify what they get back.
	return append([]byte(nil), b...), nil
}

// Variant pairs the exact bytes of one known upstream release of a module
// with the replacement to install in its place.
type Variant struct {
	Index       int
	Fingerprint []byte
	Replacement []byte
}

// Variants is an ordered list of the known releases of a module.
type Variants []Variant

// Select returns the first variant whose fingerprint equals current.
func (v Variants) Select(current []byte) (Variant, error) {
	for _, variant := range v {
		if bytes.Equal(variant.Fingerprint, current) {
			return variant, nil
		}
	}
	return Variant{}, fmt.Errorf("%w (checked %d)", ErrNoMatchingVariant, len(v))
}

// OriginalName is the resource holding the fingerprint of variant n of module.
func OriginalName(module string, n int) string {
	return fmt.Sprintf("Original %s-%d.class", module, n)
}

// ReplacementName is the resource holding the replacement for variant n of module.
func ReplacementName(module string, n int) string {
	return fmt.Sprintf("%s-%d.class", module, n)
}

// LoadVariants reads the numbered variants of module, counting up from 1 until
// no fingerprint exists for the next number. A module bundled without a
// number is treated as its only variant.
func LoadVariants(p Provider, module string) (Variants, error) {
	var variants Variants
	for n := 1; ; n++ {
		fingerprint, err := p.Resource(OriginalName(module, n))
		if errors.Is(err, ErrResourceMissing) {
			break
		}
		if err != nil {
			return nil, err
		}
		replacement, err := p.Resource(ReplacementName(module, n))
		if err != nil {
			return nil, fmt.Errorf("replacement for variant %d of %s: %w", n, module, err)
		}
		variants = append(variants, Variant{Index: n, Fingerprint: fingerprint, Replacement: replacement})
	}
	if len(variants) > 0 {
		return variants, nil
	}

	fingerprint, err := p.Resource("Original " + module + ".class")
	if err != nil {
		return nil, err
	}
	replacement, err := p.Resource(module + ".class")
	if err != nil {
		return nil, err
	}
	return Variants{{Index: 1, Fingerprint: fingerprint, Replacement: replacement}}, nil
}
