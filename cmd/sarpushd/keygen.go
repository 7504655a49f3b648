package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	sarpush "github.com/SardineFish/sar-push-service"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen pub-file priv-file",
		Short: "Create a key pair for signing messages",
		Long: `Create an ECDSA key pair for signing messages with "sarpushd send
--sign-pub --sign-priv". The private key is written without a passphrase.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeKeys(args[0], args[1])
		},
	}
}

func writeKeys(pubFile, privFile string) error {
	pub, priv, err := sarpush.SignCreateKeys()
	if err != nil {
		return err
	}
	if err := os.WriteFile(pubFile, pub, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(privFile, priv, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}
