package cmd

import (
	"fmt"
	"io"
	"runtime"

	"github.com/iovation/launchkey-sdk-go/pkg/config"
	"github.com/iovation/launchkey-sdk-go/pkg/crypto/jwe"
	"github.com/iovation/launchkey-sdk-go/pkg/transport"
	"github.com/iovation/launchkey-sdk-go/pkg/version"
)

func printVersion(w io.Writer, verbose bool) {
	fmt.Fprintln(w, "LaunchKey SDK version: ", version.SDKVersion, runtime.GOOS+"/"+runtime.GOARCH)
	if verbose {
		fmt.Fprintln(w, "  Commit:     ", version.Commit)
		fmt.Fprintln(w, "  Built:      ", version.BuildDate)
		fmt.Fprintln(w, "  Go:         ", runtime.Version())
		fmt.Fprintln(w, "  User-Agent: ", version.UserAgent())
		fmt.Fprintln(w, "  API:        ", transport.DefaultBaseURL)
		fmt.Fprintln(w, "  Envelope:   ", jwe.KeyAlgorithm, "+", jwe.ContentAlgorithm)
	}
}

// loadConfig reads --config when given, and the environment otherwise.
func loadConfig() (config.Config, error) {
	if configPath != "" {
		return config.LoadConfigFile(configPath)
	}
	return config.LoadConfigFromEnvironment()
}
