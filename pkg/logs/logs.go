package logs

import (
	"bytes"
	"fmt"
	"log"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/component-base/featuregate"
	"k8s.io/component-base/logs"
	logsapi "k8s.io/component-base/logs/api/v1"

	_ "k8s.io/component-base/logs/json/register"
)

// The SDK logs through klog using contextual loggers
// (klog.FromContext). Applications embedding the SDK decide where those logs
// go; the launchkey CLI uses the helpers in this package to configure klog the
// way other Kubernetes-style tools do: text format by default, JSON on
// request, with errors and warnings on stderr and info on stdout.
//
// Further reading:
//  - [Kubernetes logging conventions](https://github.com/kubernetes/community/blob/master/contributors/devel/sig-instrumentation/logging.md)
//  - [Examples of using k8s.io/component-base/logs](https://github.com/kubernetes/kubernetes/tree/master/staging/src/k8s.io/component-base/logs/example)

var (
	// Only the essential logging flags are shown in --help. The hidden flags
	// still work.
	visibleFlagNames = sets.New[string]("v", "vmodule", "logging-format")
	// Updated with values from the logging flags, even those that are hidden.
	configuration = logsapi.NewLoggingConfiguration()
	// Logging features are added to this feature gate, but the feature-gates
	// flag is hidden from the user.
	features = featuregate.NewFeatureGate()
)

const (
	// Standard log verbosity levels.
	// Use these instead of integers in SDK code.
	Info  = 0
	Debug = 1
	Trace = 2
)

func init() {
	runtime.Must(logsapi.AddFeatureGates(features))
	// ALPHA options enable the split-stream logging options.
	runtime.Must(features.OverrideDefault(logsapi.LoggingAlphaOptions, true))
}

// AddFlags adds log related flags to the supplied flag set.
//
// The split-stream options are enabled by default, so that errors are logged to
// stderr and info to stdout.
func AddFlags(fs *pflag.FlagSet) {
	var tfs pflag.FlagSet
	logsapi.AddFlags(configuration, &tfs)
	features.AddFlag(&tfs)
	tfs.VisitAll(func(f *pflag.Flag) {
		if !visibleFlagNames.Has(f.Name) {
			_ = tfs.MarkHidden(f.Name)
		}

		if f.Name == "logging-format" {
			f.Usage = `Sets the log format. Permitted formats: "json", "text".`
		}
		if f.Name == "log-text-split-stream" {
			f.DefValue = "true"
			runtime.Must(f.Value.Set("true"))
		}
		if f.Name == "log-json-split-stream" {
			f.DefValue = "true"
			runtime.Must(f.Value.Set("true"))
		}

		if f.Name == "v" {
			f.Name = "log-level"
			f.Shorthand = "v"
			f.Usage = fmt.Sprintf("%s. 0=Info, 1=Debug, 2=Trace. Use 6-9 for increasingly verbose HTTP request logging. (default: 0)", f.Usage)
		}
	})
	fs.AddFlagSet(&tfs)
}

// Initialize uses k8s.io/component-base/logs to configure the global loggers
// log, slog and klog. All are configured to write in the same format.
func Initialize() error {
	logs.InitLogs()
	if err := logsapi.ValidateAndApply(configuration, features); err != nil {
		return fmt.Errorf("Error in logging configuration: %s", err)
	}

	// logs.InitLogs made klog the backend of slog.Default. Messages written
	// with the log package, e.g. by net/http, are forwarded to it too.
	log.Default().SetOutput(NewStdLogWriter("stdlib"))

	return nil
}

// NewStdLogger returns a *log.Logger which forwards to slog.Default, tagged
// with source. It is meant for APIs such as http.Server.ErrorLog which only
// accept a standard library logger.
func NewStdLogger(source string) *log.Logger {
	return log.New(NewStdLogWriter(source), "", 0)
}

// NewStdLogWriter returns a LogToSlogWriter for slog.Default.
func NewStdLogWriter(source string) LogToSlogWriter {
	return LogToSlogWriter{Slog: slog.Default(), Source: source}
}

// LogToSlogWriter adapts line oriented log output to slog. Lines mentioning
// an error or a failure are logged at error level.
type LogToSlogWriter struct {
	Slog   *slog.Logger
	Source string
}

func (w LogToSlogWriter) Write(p []byte) (n int, err error) {
	// log.Printf writes a newline at the end of the message.
	message := string(bytes.TrimSuffix(p, []byte("\n")))

	if strings.Contains(message, "error") ||
		strings.Contains(message, "failed") {
		w.Slog.With("source", w.Source).Error(message)
	} else {
		w.Slog.With("source", w.Source).Info(message)
	}
	return len(p), nil
}
