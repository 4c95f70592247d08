package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

// configPath is the YAML config file given with --config. When empty the
// config is read from LAUNCHKEY_* environment variables.
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "launchkey",
	Short: "Command line companion for the LaunchKey SDK",
	Long: `launchkey calls the LaunchKey Platform API with the credentials of an
organization, directory or service.

Credentials are read from the YAML file given with --config, or else from
LAUNCHKEY_* environment variables and an optional .env file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logs.Initialize()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(
		&configPath,
		"config",
		"c",
		"",
		"Path to a YAML config file. Defaults to LAUNCHKEY_* environment variables.",
	)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	logs.AddFlags(rootCmd.PersistentFlags())
	for _, command := range rootCmd.Commands() {
		setFlagsFromEnv("LAUNCHKEY_", command.PersistentFlags())
	}

	ctx := klog.NewContext(context.Background(), klog.Background())
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setFlagsFromEnv(prefix string, fs *pflag.FlagSet) {
	set := map[string]bool{}
	fs.Visit(func(f *pflag.Flag) {
		set[f.Name] = true
	})
	fs.VisitAll(func(f *pflag.Flag) {
		// ignore flags set from the commandline
		if set[f.Name] {
			return
		}
		// tolerate a trailing _ in the prefix, i.e. LAUNCHKEY_ and LAUNCHKEY are equivalent
		cleanPrefix := strings.TrimSuffix(prefix, "_")
		name := fmt.Sprintf("%s_%s", cleanPrefix, strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_"))
		if e, ok := os.LookupEnv(name); ok {
			_ = f.Value.Set(e)
		}
	})
}
