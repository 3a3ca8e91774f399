// Package sign signs jars the way the Java runtime expects: a manifest of
// entry digests, a signature file over the manifest and a PKCS#7 block over
// the signature file.
package sign

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	keystore "github.com/pavlo-v-chernykh/keystore-go/v4"
)

const (
	// KeystoreFile is the name of the provisioned keystore.
	KeystoreFile = "fake-cert.jks"
	// DefaultPassword protects both the keystore and its key entry.
	DefaultPassword = "123456"
	// DefaultAlias names the key entry used for signing.
	DefaultAlias = "test"
)

// ErrUnsupportedAlgorithm is returned for keys the jar signature format can't
// carry. It points at the environment, not at the client being patched.
var ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

// KeystorePath returns the location of the keystore under configDir.
func KeystorePath(configDir string) string {
	return filepath.Join(configDir, "signkey", KeystoreFile)
}

// Key is a private key together with its certificate chain, leaf first.
type Key struct {
	Alias  string
	Signer crypto.Signer
	Chain  []*x509.Certificate
}

// Certificate returns the leaf certificate.
func (k *Key) Certificate() *x509.Certificate {
	return k.Chain[0]
}

// blockExtension returns the extension of the signature block file for the
// key's algorithm.
func (k *Key) blockExtension() (string, error) {
	switch k.Signer.(type) {
	case *rsa.PrivateKey:
		return ".RSA", nil
	case *ecdsa.PrivateKey:
		return ".EC", nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, k.Signer)
	}
}

// LoadKey reads the private key entry alias from the JKS keystore at path.
func LoadKey(path, password, alias string) (*Key, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening keystore: %w", err)
	}
	defer f.Close()

	ks := keystore.New()
	if err := ks.Load(f, []byte(password)); err != nil {
		return nil, fmt.Errorf("error loading keystore %s: %w", path, err)
	}
	entry, err := ks.GetPrivateKeyEntry(alias, []byte(password))
	if err != nil {
		return nil, fmt.Errorf("error reading key %s: %w", alias, err)
	}
	if len(entry.CertificateChain) == 0 {
		return nil, fmt.Errorf("key %s has no certificate", alias)
	}

	parsed, err := x509.ParsePKCS8PrivateKey(entry.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("error parsing key %s: %w", alias, err)
	}
	signer, ok := parsed.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedAlgorithm, parsed)
	}

	key := &Key{Alias: alias, Signer: signer}
	if _, err := key.blockExtension(); err != nil {
		return nil, err
	}
	for _, c := range entry.CertificateChain {
		cert, err := x509.ParseCertificate(c.Content)
		if err != nil {
			return nil, fmt.Errorf("error parsing certificate of %s: %w", alias, err)
		}
		key.Chain = append(key.Chain, cert)
	}
	return key, nil
}

// WriteKeystore stores signer and its self-signed certificate as the entry
// alias of a new JKS keystore at path.
func WriteKeystore(path, password, alias string, signer crypto.Signer) error {
	cert, err := selfSignedCertificate(signer)
	if err != nil {
		return err
	}
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return fmt.Errorf("error encoding private key: %w", err)
	}

	ks := keystore.New()
	entry := keystore.PrivateKeyEntry{
		CreationTime: time.Now(),
		PrivateKey:   der,
		CertificateChain: []keystore.Certificate{
			{Type: "X509", Content: cert.Raw},
		},
	}
	if err := ks.SetPrivateKeyEntry(alias, entry, []byte(password)); err != nil {
		return fmt.Errorf("error adding key %s: %w", alias, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("error creating keystore directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("error creating keystore %s: %w", path, err)
	}
	if err := ks.Store(f, []byte(password)); err != nil {
		f.Close()
		return fmt.Errorf("error writing keystore %s: %w", path, err)
	}
	return f.Close()
}

// GenerateKeystore provisions a keystore holding a new 2048 bit RSA key.
func GenerateKeystore(path, password, alias string) error {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("error generating RSA key: %w", err)
	}
	return WriteKeystore(path, password, alias, privateKey)
}

func selfSignedCertificate(signer crypto.Signer) (*x509.Certificate, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			CommonName:   "clientpatch",
			Organization: []string{"clientpatch"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour * 24 * 365 * 10),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageCodeSigning},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
	if err != nil {
		return nil, fmt.Errorf("error creating certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}
