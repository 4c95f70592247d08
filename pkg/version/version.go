package version

import (
	"fmt"
	"net/http"
	"runtime"
)

// This variables are injected at build time.

// SDKVersion hosts the version of the SDK.
var SDKVersion = "development"

// Commit is the commit hash of the build
var Commit string

// BuildDate is the date it was built
var BuildDate string

// GoVersion is the go version that was used to compile this
var GoVersion string

// UserAgent is the value of the User-Agent header sent with every API
// request, e.g. "launchkey-sdk-go/v1.2.0 (linux/amd64)".
func UserAgent() string {
	return fmt.Sprintf("launchkey-sdk-go/%s (%s/%s)", SDKVersion, runtime.GOOS, runtime.GOARCH)
}

// SetUserAgent sets the User-Agent header of req.
func SetUserAgent(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
}
