package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/dcrodman/clientpatch/internal/core"
	"github.com/dcrodman/clientpatch/internal/sign"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generates the self-signed key used to re-sign launcher clients",
	Run:   KeygenCommand,
	Args:  cobra.NoArgs,
}

var ForceFlag bool

func KeygenCommand(cmd *cobra.Command, args []string) {
	cfg, err := core.LoadConfig(ConfigFlag)
	if err != nil {
		exitWithError("error loading config", err)
	}

	path := cfg.KeystorePath()
	if _, err := os.Stat(path); err == nil && !ForceFlag {
		fmt.Printf("%s already exists, use --force to replace it\n", path)
		os.Exit(1)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		exitWithError("error checking keystore", err)
	}

	if err := sign.GenerateKeystore(path, cfg.Keystore.Password, cfg.Keystore.Alias); err != nil {
		exitWithError("error generating keystore", err)
	}
	fmt.Printf("Done! Launcher clients will be signed with the key in %s\n", path)
}
