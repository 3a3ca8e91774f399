package sign

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"go.mozilla.org/pkcs7"

	"github.com/dcrodman/clientpatch/internal/archive"
)

// ErrInvalidSignature is returned by Verify when a jar's signature doesn't
// cover its contents.
var ErrInvalidSignature = errors.New("invalid jar signature")

// JarSigner signs jars with a key loaded from a keystore.
type JarSigner struct {
	Key *Key
}

// NewJarSigner loads the signing key from the keystore at path.
func NewJarSigner(path, password, alias string) (*JarSigner, error) {
	key, err := LoadKey(path, password, alias)
	if err != nil {
		return nil, err
	}
	return &JarSigner{Key: key}, nil
}

// Sign signs the jar at path. The signed jar is written next to it and then
// moved over the original.
func (s *JarSigner) Sign(jar string) error {
	a, err := archive.Load(jar)
	if err != nil {
		return err
	}
	if err := s.SignArchive(a); err != nil {
		return err
	}

	ext := filepath.Ext(jar)
	signed := strings.TrimSuffix(jar, ext) + "-signed" + ext
	if err := archive.Save(a, signed, archive.Store); err != nil {
		return err
	}
	if err := os.Rename(signed, jar); err != nil {
		os.Remove(signed)
		return fmt.Errorf("error replacing %s with signed jar: %w", jar, err)
	}
	return nil
}

// SignArchive replaces any existing signature of a with a new one. Main
// attributes of an existing manifest are kept.
func (s *JarSigner) SignArchive(a *archive.Archive) error {
	ext, err := s.Key.blockExtension()
	if err != nil {
		return err
	}

	main := newSection()
	main.set("Manifest-Version", "1.0")
	if existing, ok := a.Get(archive.ManifestPath); ok {
		if sections := parseSections(existing); len(sections) > 0 && sections[0].get("Name") == "" {
			for _, key := range sections[0].order {
				main.set(key, sections[0].attrs[key])
			}
		}
	}
	main.set("Created-By", createdBy)

	for _, p := range a.Paths() {
		if IsSignatureFile(p) {
			a.Delete(p)
		}
	}

	mainBytes := main.encode()
	manifest := append([]byte(nil), mainBytes...)
	sf := newSection()
	sf.set("Signature-Version", "1.0")
	sf.set(digestKey+"-Manifest-Main-Attributes", digest(mainBytes))

	var entries []byte
	for _, p := range a.Paths() {
		if p == archive.ManifestPath {
			continue
		}
		b, _ := a.Get(p)
		entry := newSection()
		entry.set("Name", p)
		entry.set(digestKey, digest(b))
		encoded := entry.encode()
		manifest = append(manifest, encoded...)

		sfEntry := newSection()
		sfEntry.set("Name", p)
		sfEntry.set(digestKey, digest(encoded))
		entries = append(entries, sfEntry.encode()...)
	}
	sf.set(digestKey+"-Manifest", digest(manifest))
	sf.set("Created-By", createdBy)
	signature := append(sf.encode(), entries...)

	block, err := s.sign(signature)
	if err != nil {
		return err
	}

	name := blockName(s.Key.Alias)
	a.Put(archive.ManifestPath, manifest)
	a.Put("META-INF/"+name+".SF", signature)
	a.Put("META-INF/"+name+ext, block)
	return nil
}

func (s *JarSigner) sign(content []byte) ([]byte, error) {
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		return nil, fmt.Errorf("error creating signed data: %w", err)
	}
	sd.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	if err := sd.AddSigner(s.Key.Certificate(), s.Key.Signer, pkcs7.SignerInfoConfig{}); err != nil {
		return nil, fmt.Errorf("error adding signer: %w", err)
	}
	for _, cert := range s.Key.Chain[1:] {
		sd.AddCertificate(cert)
	}
	sd.Detach()
	return sd.Finish()
}

// blockName derives the signature file base name from the key alias the way
// jarsigner does.
func blockName(alias string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(alias) {
		if b.Len() == 8 {
			break
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "SIGNER"
	}
	return b.String()
}

// IsSignatureFile reports whether p is part of a jar signature rather than
// signed content.
func IsSignatureFile(p string) bool {
	if p == archive.ManifestPath {
		return true
	}
	dir, file := path.Split(p)
	if dir != "META-INF/" {
		return false
	}
	switch strings.ToUpper(path.Ext(file)) {
	case ".SF", ".RSA", ".DSA", ".EC":
		return true
	}
	return false
}

// Verify checks the signature of the jar at path and returns the signing
// certificate.
func Verify(jar string) (*x509.Certificate, error) {
	a, err := archive.Load(jar)
	if err != nil {
		return nil, err
	}
	return VerifyArchive(a)
}

// VerifyArchive checks that a carries exactly one signature, that the
// signature covers the manifest and that the manifest covers every entry.
func VerifyArchive(a *archive.Archive) (*x509.Certificate, error) {
	var sfPath string
	for _, p := range a.Paths() {
		if IsSignatureFile(p) && strings.HasSuffix(p, ".SF") {
			if sfPath != "" {
				return nil, fmt.Errorf("%w: more than one signature file", ErrInvalidSignature)
			}
			sfPath = p
		}
	}
	if sfPath == "" {
		return nil, fmt.Errorf("%w: jar is not signed", ErrInvalidSignature)
	}
	sf, _ := a.Get(sfPath)

	var block []byte
	base := strings.TrimSuffix(sfPath, ".SF")
	for _, ext := range []string{".RSA", ".EC", ".DSA"} {
		if b, ok := a.Get(base + ext); ok {
			block = b
			break
		}
	}
	if block == nil {
		return nil, fmt.Errorf("%w: no signature block for %s", ErrInvalidSignature, sfPath)
	}

	p7, err := pkcs7.Parse(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	p7.Content = sf
	if err := p7.Verify(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	manifest, ok := a.Get(archive.ManifestPath)
	if !ok {
		return nil, fmt.Errorf("%w: no manifest", ErrInvalidSignature)
	}
	sfSections := parseSections(sf)
	if len(sfSections) == 0 || sfSections[0].get(digestKey+"-Manifest") != digest(manifest) {
		return nil, fmt.Errorf("%w: manifest digest mismatch", ErrInvalidSignature)
	}

	entryDigests := make(map[string]string)
	for _, s := range parseSections(manifest) {
		if name := s.get("Name"); name != "" {
			entryDigests[name] = s.get(digestKey)
		}
	}
	for _, p := range a.Paths() {
		if IsSignatureFile(p) {
			continue
		}
		b, _ := a.Get(p)
		want, ok := entryDigests[p]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not signed", ErrInvalidSignature, p)
		}
		if want != digest(b) {
			return nil, fmt.Errorf("%w: digest mismatch for %s", ErrInvalidSignature, p)
		}
		delete(entryDigests, p)
	}
	if len(entryDigests) > 0 {
		missing := make([]string, 0, len(entryDigests))
		for name := range entryDigests {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: listed but missing: %s", ErrInvalidSignature, strings.Join(missing, ", "))
	}
	return p7.GetOnlySigner(), nil
}
