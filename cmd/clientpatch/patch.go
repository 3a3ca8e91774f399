package main

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/dcrodman/clientpatch/internal/cache"
	"github.com/dcrodman/clientpatch/internal/core/data"
	"github.com/dcrodman/clientpatch/internal/patch"
	"github.com/dcrodman/clientpatch/internal/resources"
	"github.com/dcrodman/clientpatch/internal/sign"
)

var patchCmd = &cobra.Command{
	Use:   "patch [client.jar]",
	Short: "Points the native client at a proxy",
	Run:   PatchCommand,
	Args:  cobra.ExactArgs(1),
}

var clientCmd = &cobra.Command{
	Use:   "client [client.jar]",
	Short: "Points the launcher client's world list at a proxy and re-signs it",
	Run:   ClientCommand,
	Args:  cobra.ExactArgs(1),
}

var apiCmd = &cobra.Command{
	Use:   "api [api.jar]",
	Short: "Adds the classes stripped from the published launcher API",
	Run:   APICommand,
	Args:  cobra.ExactArgs(1),
}

var (
	ModulusFlag   string
	PortFlag      int
	VarpCountFlag int
	WorldPortFlag int
	NameFlag      string
	NoCacheFlag   bool
)

func (a *app) patcher() *patch.Patcher {
	p := patch.NewPatcher(a.log, resources.Embedded())
	p.Recorder = &data.Ledger{DB: a.db}
	return p
}

func (a *app) report(result *patch.Result, err error) {
	if err != nil {
		exitWithError("error patching", err)
	}
	if a.cfg.Debugging.DumpResults {
		a.log.Info(spew.Sdump(result))
	}
	if result.OldModulus != "" {
		fmt.Println("old modulus:", result.OldModulus)
	}
	fmt.Println(result.OutputPath)
}

func PatchCommand(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	params := patch.Params{Modulus: ModulusFlag, Port: PortFlag, VarpCount: VarpCountFlag}
	a.report(a.patcher().Patch(args[0], params))
}

func ClientCommand(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	signer, err := sign.NewJarSigner(a.cfg.KeystorePath(), a.cfg.Keystore.Password, a.cfg.Keystore.Alias)
	if err != nil {
		exitWithError("error loading signing key (run clientpatch keygen to create one)", err)
	}
	p := a.patcher()
	p.Signer = signer
	if a.cfg.Cache.Enabled && !NoCacheFlag {
		p.Cache = cache.New(a.cfg.CacheDir())
	}

	params := patch.ClientParams{WorldPort: WorldPortFlag, Name: NameFlag}
	a.report(p.PatchClient(args[0], params))
}

func APICommand(cmd *cobra.Command, args []string) {
	a := setup()
	defer a.close()

	a.report(a.patcher().PatchAPI(args[0]))
}
