package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var ConfigFlag string

func main() {
	rootCmd := &cobra.Command{
		Use:   "clientpatch",
		Short: "Points game clients at a proxy and re-signs them",
	}
	rootCmd.PersistentFlags().StringVarP(&ConfigFlag, "config", "c", "", "Path to the directory containing config.yaml")

	patchCmd.Flags().StringVarP(&ModulusFlag, "modulus", "m", "", "Hex encoded RSA modulus of the proxy")
	patchCmd.Flags().IntVarP(&PortFlag, "port", "p", 43594, "Port the client connects to")
	patchCmd.Flags().IntVar(&VarpCountFlag, "varp-count", -1, "Size of the client's varp arrays, -1 to leave them alone")
	if err := patchCmd.MarkFlagRequired("modulus"); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	clientCmd.Flags().IntVarP(&WorldPortFlag, "world-port", "w", 43600, "Local port the world list is served from")
	clientCmd.Flags().StringVarP(&NameFlag, "name", "n", "", "Display name of the patched client")
	clientCmd.Flags().BoolVar(&NoCacheFlag, "no-cache", false, "Always patch and sign from scratch")

	keygenCmd.Flags().BoolVarP(&ForceFlag, "force", "f", false, "Replace an existing keystore")

	historyCmd.Flags().StringVarP(&KindFlag, "kind", "k", "", "Only list patches of this kind (native, client, api)")
	historyCmd.Flags().IntVarP(&LimitFlag, "limit", "l", 20, "Maximum number of patches to list, 0 for all")
	historyCmd.Flags().DurationVar(&PurgeFlag, "purge-older-than", 0, "Delete patches older than this before listing")

	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(clientCmd)
	rootCmd.AddCommand(apiCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
