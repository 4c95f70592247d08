package logs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/iovation/launchkey-sdk-go/pkg/logs"
)

// TestLogs demonstrates how the logging flags affect the logging output.
//
// The test executes itself as a sub-process to avoid mutating the global
// logging configuration.
func TestLogs(t *testing.T) {
	if flags, found := os.LookupEnv("GO_CHILD_FLAG"); found {
		fs := pflag.NewFlagSet("test-logs", pflag.ContinueOnError)
		fs.SetOutput(io.Discard)
		logs.AddFlags(fs)
		if err := fs.Parse(strings.Split(flags, " ")); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				fmt.Fprint(os.Stdout, fs.FlagUsages())
				os.Exit(0)
			}
			klog.ErrorS(err, "Exiting due to error", "exit-code", 1)
			klog.FlushAndExit(time.Second, 1)
		}
		if err := logs.Initialize(); err != nil {
			klog.ErrorS(err, "Exiting due to error", "exit-code", 1)
			klog.FlushAndExit(time.Second, 1)
		}

		log.Print("log Print")
		slog.Info("slog Info")
		slog.Error("slog Error")
		klog.InfoS("klog InfoS", "key", "value")
		logger := klog.FromContext(context.Background()).WithName("transport")
		logger.V(logs.Debug).Info("Contextual Debug", "key", "value")
		logger.V(logs.Trace).Info("Contextual Trace", "key", "value")
		logger.Error(errors.New("fake-error"), "Contextual error", "key", "value")

		klog.FlushAndExit(time.Second, 0)
	}

	tests := []struct {
		name         string
		flags        string
		expectError  bool
		expectStdout string
		expectStderr string
	}{
		{
			name:  "help",
			flags: "-h",
			expectStdout: `
  -v, --log-level Level         number for the log level verbosity. 0=Info, 1=Debug, 2=Trace. Use 6-9 for increasingly verbose HTTP request logging. (default: 0)
      --logging-format string   Sets the log format. Permitted formats: "json", "text". (default "text")
      --vmodule pattern=N,...   comma-separated list of pattern=N settings for file-filtered logging (only works for text log format)
`,
		},
		{
			name:        "unrecognized-flag",
			flags:       "--foo",
			expectError: true,
			expectStderr: `
E0000 00:00:00.000000   00000 logs_test.go:000] "Exiting due to error" err="unknown flag: --foo" exit-code=1
`,
		},
		{
			name:        "logging-format-unrecognized",
			flags:       "--logging-format=foo",
			expectError: true,
			expectStderr: `
E0000 00:00:00.000000   00000 logs_test.go:000] "Exiting due to error" err="Error in logging configuration: format: Invalid value: \"foo\": Unsupported log format" exit-code=1
`,
		},
		{
			name:  "defaults",
			flags: "",
			expectStdout: `
I0000 00:00:00.000000   00000 logs.go:000] "log Print" source="stdlib"
I0000 00:00:00.000000   00000 logs_test.go:000] "slog Info"
I0000 00:00:00.000000   00000 logs_test.go:000] "klog InfoS" key="value"
`,
			expectStderr: `
E0000 00:00:00.000000   00000 logs_test.go:000] "slog Error"
E0000 00:00:00.000000   00000 logs_test.go:000] "Contextual error" err="fake-error" logger="transport" key="value"
`,
		},
		{
			name:  "logging-format-json",
			flags: "--logging-format=json",
			expectStdout: `
{"ts":0000000000000.000,"caller":"logs/logs.go:000","msg":"log Print","source":"stdlib","v":0}
{"ts":0000000000000.000,"caller":"logs/logs_test.go:000","msg":"slog Info","v":0}
{"ts":0000000000000.000,"caller":"logs/logs_test.go:000","msg":"klog InfoS","v":0,"key":"value"}
`,
			expectStderr: `
{"ts":0000000000000.000,"caller":"logs/logs_test.go:000","msg":"slog Error"}
{"ts":0000000000000.000,"logger":"transport","caller":"logs/logs_test.go:000","msg":"Contextual error","key":"value","err":"fake-error"}
`,
		},
		{
			name:  "log-level-debug",
			flags: "--log-level=1",
			expectStdout: `
I0000 00:00:00.000000   00000 logs.go:000] "log Print" source="stdlib"
I0000 00:00:00.000000   00000 logs_test.go:000] "slog Info"
I0000 00:00:00.000000   00000 logs_test.go:000] "klog InfoS" key="value"
I0000 00:00:00.000000   00000 logs_test.go:000] "Contextual Debug" logger="transport" key="value"
`,
			expectStderr: `
E0000 00:00:00.000000   00000 logs_test.go:000] "slog Error"
E0000 00:00:00.000000   00000 logs_test.go:000] "Contextual error" err="fake-error" logger="transport" key="value"
`,
		},
		{
			name:  "v-trace",
			flags: "-v=2",
			expectStdout: `
I0000 00:00:00.000000   00000 logs.go:000] "log Print" source="stdlib"
I0000 00:00:00.000000   00000 logs_test.go:000] "slog Info"
I0000 00:00:00.000000   00000 logs_test.go:000] "klog InfoS" key="value"
I0000 00:00:00.000000   00000 logs_test.go:000] "Contextual Debug" logger="transport" key="value"
I0000 00:00:00.000000   00000 logs_test.go:000] "Contextual Trace" logger="transport" key="value"
`,
			expectStderr: `
E0000 00:00:00.000000   00000 logs_test.go:000] "slog Error"
E0000 00:00:00.000000   00000 logs_test.go:000] "Contextual error" err="fake-error" logger="transport" key="value"
`,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd := exec.Command(os.Args[0], "-test.run=^TestLogs$", "-test.v")
			var (
				stdout bytes.Buffer
				stderr bytes.Buffer
			)
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			cmd.Env = append(os.Environ(), "GO_CHILD_FLAG="+test.flags)
			err := cmd.Run()

			// Remove the standard output generated by `-test.v`
			stdoutStr := strings.TrimPrefix(stdout.String(), "=== RUN   TestLogs\n")
			stderrStr := stderr.String()
			t.Logf("STDOUT\n%s\n", stdoutStr)
			t.Logf("STDERR\n%s\n", stderrStr)
			if test.expectError {
				var target *exec.ExitError
				require.ErrorAs(t, err, &target)
				require.Equal(t, 1, target.ExitCode(), "Flag parsing failures should always result in exit code 1")
			} else {
				require.NoError(t, err)
			}

			test.expectStdout = strings.TrimPrefix(test.expectStdout, "\n")
			test.expectStderr = strings.TrimPrefix(test.expectStderr, "\n")

			require.Equal(t, test.expectStdout, replaceWithStaticTimestamps(stdoutStr), "stdout doesn't match")
			require.Equal(t, test.expectStderr, replaceWithStaticTimestamps(stderrStr), "stderr doesn't match")
		})
	}
}

var (
	timestampRegexpKlog   = regexp.MustCompile(`\d{4} \d{2}:\d{2}:\d{2}\.\d{6} +\d+`)
	timestampRegexpJSON   = regexp.MustCompile(`"ts":\d+\.?\d*`)
	fileAndLineRegexpJSON = regexp.MustCompile(`"caller":"([^"]+).go:\d+"`)
	fileAndLineRegexpKlog = regexp.MustCompile(` ([^:]+).go:\d+`)
)

// Replaces the klog and JSON timestamps and line numbers with static values.
//
//	I1018 15:12:57.953433   22183 logs.go:12] log
//	{"ts":1729258473588.828,"caller":"log/log.go:12","msg":"log Print","v":0}
//
// become:
//
//	I0000 00:00:00.000000   00000 logs.go:000] log
//	{"ts":0000000000000.000,"caller":"log/log.go:000","msg":"log Print","v":0}
func replaceWithStaticTimestamps(input string) string {
	input = timestampRegexpKlog.ReplaceAllString(input, "0000 00:00:00.000000   00000")
	input = timestampRegexpJSON.ReplaceAllString(input, `"ts":0000000000000.000`)
	input = fileAndLineRegexpJSON.ReplaceAllString(input, `"caller":"$1.go:000"`)
	input = fileAndLineRegexpKlog.ReplaceAllString(input, " $1.go:000")
	return input
}

func TestLogToSlogWriter(t *testing.T) {
	given := strings.TrimPrefix(`
http: TLS handshake error from 127.0.0.1:5000: EOF
webhook request failed to decode
webhook server listening on :8080`, "\n")
	expect := strings.TrimPrefix(`
level=ERROR msg="http: TLS handshake error from 127.0.0.1:5000: EOF" source=webhook
level=ERROR msg="webhook request failed to decode" source=webhook
level=INFO msg="webhook server listening on :8080" source=webhook
`, "\n")

	gotBuf := &bytes.Buffer{}
	slogHandler := slog.NewTextHandler(gotBuf, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "time" {
				return slog.Attr{}
			}
			return a
		},
	})

	logger := log.New(io.Discard, "", 0)
	logger.SetOutput(logs.LogToSlogWriter{Slog: slog.New(slogHandler), Source: "webhook"})

	for _, line := range strings.Split(given, "\n") {
		logger.Print(line)
	}

	assert.Equal(t, expect, gotBuf.String())
}
