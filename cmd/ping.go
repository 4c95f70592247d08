package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Print the API time",
	Long: `Ping the API and print the time it reports, together with the offset
from the local clock. Large offsets make signed requests fail.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		t, _, err := cfg.NewTransport(cmd.Context())
		if err != nil {
			return err
		}

		resp, err := t.PublicV3PingGet(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("API time:    ", resp.APITime.Format(time.RFC3339))
		fmt.Println("Clock offset:", time.Since(resp.APITime).Round(time.Second))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
