package patch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/dcrodman/clientpatch/internal/archive"
	"github.com/dcrodman/clientpatch/internal/core/bytes"
	"github.com/dcrodman/clientpatch/internal/resources"
	"github.com/dcrodman/clientpatch/internal/sign"
)

var (
	// ErrLayoutDrift means the client no longer looks like any release the
	// bundled patch data was built for. It can't be retried; the patch data
	// has to be regenerated.
	ErrLayoutDrift = errors.New("client layout out of date")
	// ErrCapacity is returned when a replacement value is longer than the slot
	// it has to fit in.
	ErrCapacity = bytes.ErrCapacity
)

// Policy controls how many entries an entry scan may patch.
type Policy int

const (
	// SingleMatch patches the first matching entry and ignores the rest.
	SingleMatch Policy = iota
	// MultiMatch patches every matching entry.
	MultiMatch
)

func (p Policy) String() string {
	if p == SingleMatch {
		return "single-match"
	}
	return "multi-match"
}

// Step is one operation of a Pipeline.
type Step interface {
	Name() string
	Apply(a *archive.Archive, log logrus.FieldLogger) error
}

// Pipeline applies its steps in order, stopping at the first failure. Steps
// are never run concurrently since later ones read entries earlier ones wrote.
type Pipeline []Step

func (p Pipeline) Run(a *archive.Archive, log logrus.FieldLogger) error {
	for _, step := range p {
		log.Debugf("applying %s", step.Name())
		if err := step.Apply(a, log.WithField("step", step.Name())); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// scanStep visits entries in path order, rewriting those for which match
// returns true.
type scanStep struct {
	name   string
	policy Policy
	// required steps fail with ErrLayoutDrift when nothing matches.
	required bool
	match    func(b []byte, log logrus.FieldLogger) bool
	rewrite  func(b []byte, log logrus.FieldLogger) ([]byte, error)
}

func (s *scanStep) Name() string { return s.name }

func (s *scanStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	_, err := s.run(a, log)
	return err
}

// run returns the number of entries rewritten.
func (s *scanStep) run(a *archive.Archive, log logrus.FieldLogger) (int, error) {
	matched := 0
	for _, path := range a.Paths() {
		b, _ := a.Get(path)
		entryLog := log.WithField("entry", path)
		if !s.match(b, entryLog) {
			continue
		}
		out, err := s.rewrite(b, entryLog)
		if err != nil {
			return matched, fmt.Errorf("%s: %w", path, err)
		}
		a.Put(path, out)
		matched++
		if s.policy == SingleMatch {
			break
		}
	}
	if matched == 0 && s.required {
		return 0, fmt.Errorf("%w: no entry matched", ErrLayoutDrift)
	}
	log.Debugf("%s scan patched %d entries", s.policy, matched)
	return matched, nil
}

const minModulusLength = 256

var (
	modulusMarker = []byte("10001")
	localhost     = []byte("127.0.0.1")
)

// ModulusStep swaps the RSA modulus in the first entry that carries the
// public exponent marker. Old holds the replaced modulus once applied.
type ModulusStep struct {
	Modulus string
	Old     string
}

func (s *ModulusStep) Name() string { return "modulus" }

func (s *ModulusStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	scan := &scanStep{
		name:     s.Name(),
		policy:   SingleMatch,
		required: true,
		match: func(b []byte, _ logrus.FieldLogger) bool {
			return bytes.Index(b, modulusMarker, 0) != -1
		},
		rewrite: func(b []byte, log logrus.FieldLogger) ([]byte, error) {
			out, old, err := rewriteModulus(b, s.Modulus)
			if err != nil {
				return nil, err
			}
			s.Old = old
			log.Debugf("old modulus: %s", old)
			log.Debugf("new modulus: %s", s.Modulus)
			return out, nil
		},
	}
	return scan.Apply(a, log)
}

func rewriteModulus(b []byte, modulus string) ([]byte, string, error) {
	start, end, ok := bytes.HexRun(b, minModulusLength)
	if !ok || start < 2 {
		return nil, "", fmt.Errorf("%w: no modulus found", ErrLayoutDrift)
	}
	declared, err := bytes.FieldLength(b, start-2)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrLayoutDrift, err)
	}
	if declared != end-start {
		return nil, "", fmt.Errorf("%w: modulus field declares %d bytes, found %d hex digits", ErrLayoutDrift, declared, end-start)
	}
	if len(modulus) > end-start {
		return nil, "", fmt.Errorf("%w: new modulus is %d digits, old is %d", ErrCapacity, len(modulus), end-start)
	}

	old := string(b[start:end])
	out, err := bytes.RewriteLengthPrefixed(b, start-2, []byte(modulus))
	if err != nil {
		return nil, "", err
	}
	return out, old, nil
}

// LocalhostStep blanks the loopback address the client refuses to connect to.
// The client compares hosts with a suffix match, so an empty string lets every
// host through.
func LocalhostStep() Step {
	return &scanStep{
		name:     "localhost",
		policy:   SingleMatch,
		required: true,
		match: func(b []byte, _ logrus.FieldLogger) bool {
			return bytes.Index(b, localhost, 0) != -1
		},
		rewrite: func(b []byte, log logrus.FieldLogger) ([]byte, error) {
			// Longer constants such as URLs may embed the address; only a
			// constant holding exactly the address is blanked.
			for i := bytes.Index(b, localhost, 0); i != -1; i = bytes.Index(b, localhost, i+1) {
				if declared, err := bytes.FieldLength(b, i-2); err != nil || declared != len(localhost) {
					continue
				}
				log.Debugf("replacing %s with an empty host", localhost)
				return bytes.RewriteLengthPrefixed(b, i-2, nil)
			}
			return nil, fmt.Errorf("%w: %s is not a standalone string constant", ErrLayoutDrift, localhost)
		},
	}
}

// intConstant is the constant pool encoding of an int: the CONSTANT_Integer
// tag followed by the big endian value.
func intConstant(v int) []byte {
	b := make([]byte, 5)
	b[0] = 0x03
	binary.BigEndian.PutUint32(b[1:], uint32(v))
	return b
}

// PortStep replaces every compiled in DefaultPort with port. It does nothing
// when port is the default.
type PortStep struct {
	Port int
}

func (s *PortStep) Name() string { return "port" }

func (s *PortStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	if s.Port == DefaultPort {
		log.Debugf("port is already %d", DefaultPort)
		return nil
	}
	old, replacement := intConstant(DefaultPort), intConstant(s.Port)
	scan := &scanStep{
		name:   s.Name(),
		policy: MultiMatch,
		match: func(b []byte, _ logrus.FieldLogger) bool {
			return bytes.Index(b, old, 0) != -1
		},
		rewrite: func(b []byte, log logrus.FieldLogger) ([]byte, error) {
			n, err := bytes.ReplaceAll(b, old, replacement)
			if err != nil {
				return nil, err
			}
			log.Debugf("patched %d occurrences of port %d to %d", n, DefaultPort, s.Port)
			return b, nil
		},
	}
	return scan.Apply(a, log)
}

// anyVarpArray matches a varp array initializer of any size.
var anyVarpArray = bytes.MustParsePattern("11 ?? ?? BC 0A B3")

// varpArray is the initializer of a varp array: sipush n; newarray int;
// putstatic.
func varpArray(n int) []byte {
	return []byte{0x11, byte(n >> 8), byte(n), 0xBC, 0x0A, 0xB3}
}

// VarpCountStep resizes the varp arrays. The client declares them back to
// back, so only entries with at least two initializers are patched, and only
// their first two. Entries with a single initializer are left alone.
type VarpCountStep struct {
	Count int
}

func (s *VarpCountStep) Name() string { return "varp count" }

func (s *VarpCountStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	if s.Count == UnspecifiedVarpCount || s.Count == DefaultVarpCount {
		log.Debug("varp count unchanged")
		return nil
	}
	old, replacement := varpArray(DefaultVarpCount), varpArray(s.Count)
	scan := &scanStep{
		name:   s.Name(),
		policy: MultiMatch,
		match: func(b []byte, log logrus.FieldLogger) bool {
			first := bytes.Index(b, old, 0)
			if first == -1 {
				return false
			}
			if bytes.Index(b, old, first+len(old)) == -1 {
				log.Debug("skipping entry with a single varp array initializer")
				return false
			}
			return true
		},
		rewrite: func(b []byte, log logrus.FieldLogger) ([]byte, error) {
			if _, err := bytes.ReplaceN(b, old, replacement, 2); err != nil {
				return nil, err
			}
			log.Debugf("patched varp count from %d to %d", DefaultVarpCount, s.Count)
			return b, nil
		},
	}
	n, err := scan.run(a, log)
	if err == nil && n == 0 {
		reportVarpArrays(a, log)
	}
	return err
}

// reportVarpArrays logs the size of the first varp array initializer it can
// find, for when none had the default size.
func reportVarpArrays(a *archive.Archive, log logrus.FieldLogger) {
	for _, path := range a.Paths() {
		b, _ := a.Get(path)
		if i := bytes.IndexPattern(b, anyVarpArray, 0); i != -1 {
			log.WithField("entry", path).Warnf("no paired varp arrays of size %d, found one of size %d",
				DefaultVarpCount, bytes.BigEndianUint16(b, i+1))
			return
		}
	}
	log.Warn("no varp array initializers found")
}

// ModuleStep replaces the module at Path with the bundled replacement for
// whichever known release it matches. Rewrite, if set, adjusts the
// replacement before it is installed.
type ModuleStep struct {
	Path      string
	Module    string
	Resources resources.Provider
	Rewrite   func(b []byte, log logrus.FieldLogger) ([]byte, error)
}

func (s *ModuleStep) Name() string { return "replace " + s.Module }

func (s *ModuleStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	current, ok := a.Get(s.Path)
	if !ok {
		return fmt.Errorf("%w: %s not found", ErrLayoutDrift, s.Path)
	}
	variants, err := resources.LoadVariants(s.Resources, s.Module)
	if err != nil {
		return err
	}
	variant, err := variants.Select(current)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrLayoutDrift, s.Module, err)
	}
	log.Debugf("%s matches known variant %d", s.Path, variant.Index)

	replacement := append([]byte(nil), variant.Replacement...)
	if s.Rewrite != nil {
		if replacement, err = s.Rewrite(replacement, log); err != nil {
			return err
		}
	}
	a.Put(s.Path, replacement)
	return nil
}

// worldPortRewrite points a replacement module at port instead of
// DefaultWorldPort. Replacements without the constant are installed as is.
func worldPortRewrite(port int) func([]byte, logrus.FieldLogger) ([]byte, error) {
	return func(b []byte, log logrus.FieldLogger) ([]byte, error) {
		if port == DefaultWorldPort {
			return b, nil
		}
		n, err := bytes.ReplaceAll(b, intConstant(DefaultWorldPort), intConstant(port))
		if err != nil {
			return nil, err
		}
		if n == 0 {
			log.Warnf("unable to find world port %d in replacement module", DefaultWorldPort)
			return b, nil
		}
		log.Debugf("patched world port from %d to %d", DefaultWorldPort, port)
		return b, nil
	}
}

const (
	dataDirectory       = ".runelite"
	customDataDirectory = ".rlcustom"
)

// utf8Constant is the constant pool encoding of a string: the CONSTANT_Utf8
// tag followed by the length-prefixed bytes.
func utf8Constant(s string) []byte {
	b := []byte{0x01, byte(len(s) >> 8), byte(len(s))}
	return append(b, s...)
}

// dataDirectoryRewrite moves a renamed client's data to its own directory so
// it doesn't share settings with the stock client.
func dataDirectoryRewrite(b []byte, log logrus.FieldLogger) ([]byte, error) {
	n, err := bytes.ReplaceAll(b, utf8Constant(dataDirectory), utf8Constant(customDataDirectory))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s directory constant not found", ErrLayoutDrift, dataDirectory)
	}
	log.Infof("replacing %s directory with %s", dataDirectory, customDataDirectory)
	return b, nil
}

// StripSignatureStep removes the upstream manifest and signature files, which
// no longer match once any entry has been patched.
func StripSignatureStep() Step { return stripSignatureStep{} }

type stripSignatureStep struct{}

func (stripSignatureStep) Name() string { return "strip signature" }

func (stripSignatureStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	for _, path := range a.Paths() {
		if sign.IsSignatureFile(path) {
			a.Delete(path)
			log.Debugf("removed %s", path)
		}
	}
	return nil
}

// InjectStep adds bundled modules that upstream doesn't ship. Entries maps
// resource names to the entry path they are installed at.
type InjectStep struct {
	Entries   map[string]string
	Archives  map[string]string
	Resources resources.Provider
}

func (s *InjectStep) Name() string { return "inject" }

func (s *InjectStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	for name, path := range s.Entries {
		b, err := s.Resources.Resource(name)
		if err != nil {
			return err
		}
		a.Put(path, b)
		log.Debugf("injected %s", path)
	}

	// Bundled archives are expanded under a directory prefix.
	for name, dir := range s.Archives {
		b, err := s.Resources.Resource(name)
		if err != nil {
			return err
		}
		bundled, err := archive.LoadBytes(b)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		for _, path := range bundled.Paths() {
			content, _ := bundled.Get(path)
			a.Put(dir+path, content)
		}
		log.Debugf("injected %d entries from %s", bundled.Len(), name)
	}
	return nil
}

// PropertyStep rewrites the value of one key of a properties file. Properties
// are cosmetic, so failures are logged and the step still succeeds.
type PropertyStep struct {
	Path  string
	Key   string
	Value string
}

func (s *PropertyStep) Name() string { return "property " + s.Key }

func (s *PropertyStep) Apply(a *archive.Archive, log logrus.FieldLogger) error {
	if err := s.rewrite(a); err != nil {
		log.WithError(err).Errorf("unable to overwrite %s", s.Path)
	}
	return nil
}

func (s *PropertyStep) rewrite(a *archive.Archive) error {
	b, ok := a.Get(s.Path)
	if !ok {
		return fmt.Errorf("%s not found", s.Path)
	}
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return err
	}

	prefix := s.Key + "="
	lines := strings.Split(string(text), "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		lines[i] = prefix + s.Value
		if strings.HasSuffix(line, "\r") {
			lines[i] += "\r"
		}
	}

	out, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(strings.Join(lines, "\n")))
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.Path, err)
	}
	a.Put(s.Path, out)
	return nil
}
