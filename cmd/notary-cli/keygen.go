package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tlsn-notary/shared"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a notary signing key",
	Long:  "Generate a secp256k1 notary signing key. Put the key in NOTARY_KEY and pin the address with verify --notary.",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := shared.GenerateSigningKeyPair()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "NOTARY_KEY=%s\n", kp.PrivateKeyHex())
		fmt.Fprintf(os.Stdout, "# address %s\n", kp.GetEthAddress().Hex())
		return nil
	},
}
