// Package patch rewrites the game client and its launcher so that they talk
// to a proxy instead of the live servers.
package patch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/clientpatch/internal/archive"
	"github.com/dcrodman/clientpatch/internal/resources"
	"github.com/dcrodman/clientpatch/internal/sign"
)

const (
	worldClientPath  = "net/runelite/client/game/WorldClient.class"
	runeLitePath     = "net/runelite/client/RuneLite.class"
	clientLoaderPath = "net/runelite/client/rs/ClientLoader.class"
	propertiesPath   = "net/runelite/client/runelite.properties"
	titleKey         = "runelite.title"
)

// apiClasses are the classes the launcher API leaves out unless it was built
// from source, which developer mode needs.
var apiClasses = map[string]string{
	"Varbits.class":      "net/runelite/api/Varbits.class",
	"VarPlayer.class":    "net/runelite/api/VarPlayer.class",
	"VarClientInt.class": "net/runelite/api/VarClientInt.class",
	"VarClientStr.class": "net/runelite/api/VarClientStr.class",
	"ComponentID.class":  "net/runelite/api/widgets/ComponentID.class",
	"InterfaceID.class":  "net/runelite/api/widgets/InterfaceID.class",
}

var apiArchives = map[string]string{
	"gameval.zip": "net/runelite/api/gameval/",
}

// Kind identifies which of the patch operations produced a Result.
type Kind string

const (
	KindNative Kind = "native"
	KindClient Kind = "client"
	KindAPI    Kind = "api"
)

// Result describes a successful patch.
type Result struct {
	// OldModulus is the modulus that was replaced; empty for operations that
	// don't touch it.
	OldModulus string
	// OutputPath is the patched archive.
	OutputPath string
	// Cached is set when the output was copied from a previously signed client.
	Cached bool
}

// Signer signs the archive at path in place.
type Signer interface {
	Sign(path string) error
}

// ClientCache keeps signed launcher clients keyed by the hash of the
// unpatched source and the world port they were patched for.
type ClientCache interface {
	Hash(path string) (string, error)
	Lookup(port int, hash string) (string, bool)
	Store(port int, hash, signedPath string) error
	Invalidate(port int) error
}

// Recorder keeps an audit trail of successful patches.
type Recorder interface {
	RecordPatch(kind Kind, source string, result *Result) error
}

// Patcher runs the patch pipelines. Resources is required; Signer is required
// by PatchClient. Cache and Recorder are optional.
type Patcher struct {
	Logger    logrus.FieldLogger
	Resources resources.Provider
	Signer    Signer
	Cache     ClientCache
	Recorder  Recorder
	// Now stamps output file names, mostly overridden by tests.
	Now func() time.Time
}

// NewPatcher returns a Patcher that loads bundled modules from provider.
func NewPatcher(log logrus.FieldLogger, provider resources.Provider) *Patcher {
	return &Patcher{
		Logger:    log,
		Resources: provider,
		Now:       time.Now,
	}
}

// Patch points the native client at a different server: it swaps the RSA
// modulus, lifts the localhost restriction and rewrites the port and varp
// count constants.
func (p *Patcher) Patch(path string, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	log := p.logger().WithField("source", path)
	started := p.now()

	log.Debug("reading archive into memory")
	a, err := archive.Load(path)
	if err != nil {
		return nil, err
	}

	modulus := &ModulusStep{Modulus: params.Modulus}
	pipeline := Pipeline{
		modulus,
		LocalhostStep(),
		&PortStep{Port: params.Port},
		&VarpCountStep{Count: params.VarpCount},
	}
	if err := pipeline.Run(a, log); err != nil {
		return nil, err
	}

	output := outputPath(path, started)
	if err := p.write(a, output, nil); err != nil {
		return nil, err
	}

	result := &Result{OldModulus: modulus.Old, OutputPath: output}
	p.record(KindNative, path, result)
	log.Infof("patched client written to %s in %v", output, p.now().Sub(started))
	return result, nil
}

// PatchClient makes the launcher client fetch its world list from the proxy
// and re-signs it. A client signed earlier from an identical source is reused
// as is.
func (p *Patcher) PatchClient(path string, params ClientParams) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := archive.CheckRegularFile(path); err != nil {
		return nil, err
	}
	if p.Signer == nil {
		return nil, errors.New("patching the launcher client requires a signer")
	}
	log := p.logger().WithField("source", path)
	started := p.now()
	output := outputPath(path, started)

	var hash string
	if p.Cache != nil {
		var err error
		if hash, err = p.Cache.Hash(path); err != nil {
			return nil, err
		}
		if cached, ok := p.Cache.Lookup(params.WorldPort, hash); ok {
			log.Debug("using cached client as sha-256 matches")
			if err := copyFile(cached, output); err != nil {
				return nil, err
			}
			result := &Result{OutputPath: output, Cached: true}
			p.record(KindClient, path, result)
			return result, nil
		}
		if err := p.Cache.Invalidate(params.WorldPort); err != nil {
			return nil, err
		}
	}

	a, err := archive.Load(path)
	if err != nil {
		return nil, err
	}

	runeLite := &ModuleStep{Path: runeLitePath, Module: "RuneLite", Resources: p.Resources}
	if params.Name != "" {
		runeLite.Rewrite = dataDirectoryRewrite
	}
	pipeline := Pipeline{
		StripSignatureStep(),
		&ModuleStep{
			Path:      worldClientPath,
			Module:    "WorldClient",
			Resources: p.Resources,
			Rewrite:   worldPortRewrite(params.WorldPort),
		},
		runeLite,
		&ModuleStep{
			Path:      clientLoaderPath,
			Module:    "ClientLoader",
			Resources: p.Resources,
			Rewrite:   worldPortRewrite(params.WorldPort),
		},
	}
	if params.Name != "" {
		pipeline = append(pipeline, &PropertyStep{Path: propertiesPath, Key: titleKey, Value: params.Name})
	}
	if err := pipeline.Run(a, log); err != nil {
		return nil, err
	}

	if err := p.write(a, output, func(tmp string) error { return p.sign(tmp, log) }); err != nil {
		return nil, err
	}
	if p.Cache != nil {
		if err := p.Cache.Store(params.WorldPort, hash, output); err != nil {
			log.WithError(err).Warn("unable to cache signed client")
		}
	}

	result := &Result{OutputPath: output}
	p.record(KindClient, path, result)
	log.Infof("patched client written to %s in %v", output, p.now().Sub(started))
	return result, nil
}

// PatchAPI adds the API classes that upstream strips from the published
// launcher API.
func (p *Patcher) PatchAPI(path string) (*Result, error) {
	log := p.logger().WithField("source", path)
	started := p.now()

	a, err := archive.Load(path)
	if err != nil {
		return nil, err
	}
	pipeline := Pipeline{&InjectStep{Entries: apiClasses, Archives: apiArchives, Resources: p.Resources}}
	if err := pipeline.Run(a, log); err != nil {
		return nil, err
	}

	output := outputPath(path, started)
	if err := p.write(a, output, nil); err != nil {
		return nil, err
	}
	result := &Result{OutputPath: output}
	p.record(KindAPI, path, result)
	log.Infof("patched api written to %s", output)
	return result, nil
}

func (p *Patcher) sign(path string, log logrus.FieldLogger) error {
	err := p.Signer.Sign(path)
	if errors.Is(err, sign.ErrUnsupportedAlgorithm) {
		log.WithError(err).Error("the signing key uses an algorithm this host does not support; " +
			"provision an RSA or ECDSA key")
	}
	return err
}

func (p *Patcher) record(kind Kind, source string, result *Result) {
	if p.Recorder == nil {
		return
	}
	if err := p.Recorder.RecordPatch(kind, source, result); err != nil {
		p.logger().WithError(err).Warn("unable to record patch")
	}
}

func (p *Patcher) logger() logrus.FieldLogger {
	if p.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		p.Logger = l
	}
	return p.Logger
}

func (p *Patcher) now() time.Time {
	if p.Now == nil {
		return time.Now()
	}
	return p.Now()
}

// outputPath inserts a timestamp and a -patched marker before the extension:
// client.jar becomes client-<millis>-patched.jar.
func outputPath(path string, t time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)
	return filepath.Join(filepath.Dir(path), fmt.Sprintf("%s-%d-patched%s", base, t.UnixMilli(), ext))
}

// write saves a next to output and only moves it into place once finish, if
// set, has succeeded, so output never holds a partial archive.
func (p *Patcher) write(a *archive.Archive, output string, finish func(tmp string) error) (err error) {
	tmp, err := tempSibling(output)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	if err = archive.Save(a, tmp, archive.Store); err != nil {
		return err
	}
	if finish != nil {
		if err = finish(tmp); err != nil {
			return err
		}
	}
	if err = os.Rename(tmp, output); err != nil {
		return fmt.Errorf("error moving patched archive into place: %w", err)
	}
	return nil
}

func tempSibling(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("error creating temporary file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("error opening %s: %w", src, err)
	}
	defer in.Close()

	tmp, err := tempSibling(dst)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp)
		}
	}()

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("error copying %s: %w", src, err)
	}
	if err = out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}
