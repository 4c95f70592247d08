package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var publicKeyCmd = &cobra.Command{
	Use:   "public-key [fingerprint]",
	Short: "Print an API public key",
	Long: `Print the API public key with the given fingerprint as PEM, or the key
the API currently uses when no fingerprint is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		t, _, err := cfg.NewTransport(cmd.Context())
		if err != nil {
			return err
		}

		var fingerprint string
		if len(args) == 1 {
			fingerprint = args[0]
		}

		resp, err := t.PublicV3PublicKeyGet(cmd.Context(), fingerprint)
		if err != nil {
			return err
		}

		fmt.Println("Fingerprint:", resp.Fingerprint)
		fmt.Println(strings.TrimSpace(resp.PublicKey))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publicKeyCmd)
}
