package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/torosent/apiprobe/internal/tracing"
)

// DefaultDataDir is where test data files are looked up when no data
// directory is configured.
const DefaultDataDir = "test_data"

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "apiprobe [definition files or directories]",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to settings file (JSON or YAML)")
	flags.String("data-dir", DefaultDataDir, "Directory holding test data files referenced by definitions")

	// Selection flags
	flags.StringSlice("tags", nil, "Only run endpoints and scenarios carrying one of these tags")
	flags.StringSlice("skip-tags", nil, "Skip endpoints and scenarios carrying any of these tags")

	// Execution flags
	flags.IntP("concurrency", "c", 1, "Number of jobs run in parallel")
	flags.IntP("rate", "r", 0, "Jobs started per second (0 means unlimited)")
	flags.Duration("timeout", 0, "Deadline for the whole run (0 means none)")
	flags.Bool("fail-fast", false, "Stop scheduling jobs after the first failure")

	// Output flags
	flags.Bool("json-output", false, "Emit JSON formatted report")
	flags.String("html-output", "", "Also write an HTML report to this file")
	flags.String("log-level", DefaultLogLevel, "Log level: debug, info, warn or error")
	flags.Bool("log-json", false, "Write logs as JSON")

	// Tracing flags
	flags.Bool("tracing-enabled", false, "Export OpenTelemetry spans for every call")
	flags.String("tracing-endpoint", "", "OTLP collector endpoint (host:port)")
	flags.String("tracing-protocol", "grpc", "OTLP protocol: grpc or http")
	flags.String("tracing-service-name", "", "Service name reported on spans")
	flags.Bool("tracing-insecure", false, "Disable TLS for the OTLP exporter")
	flags.Float64("tracing-sample-rate", 1.0, "Fraction of runs sampled (0.0 to 1.0)")
	flags.Bool("tracing-propagate", true, "Inject W3C trace context into outgoing requests")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the settings,
// overriding values from the settings file.
func applyFlagOverrides(s *Settings, fs *pflag.FlagSet) error {
	if fs.Changed("data-dir") {
		val, err := fs.GetString("data-dir")
		if err != nil {
			return err
		}
		s.DataDir = strings.TrimSpace(val)
	}
	if fs.Changed("tags") {
		val, err := fs.GetStringSlice("tags")
		if err != nil {
			return err
		}
		s.Tags = normalizeTags(val)
	}
	if fs.Changed("skip-tags") {
		val, err := fs.GetStringSlice("skip-tags")
		if err != nil {
			return err
		}
		s.SkipTags = normalizeTags(val)
	}
	if fs.Changed("concurrency") {
		val, err := fs.GetInt("concurrency")
		if err != nil {
			return err
		}
		s.Concurrency = val
	}
	if fs.Changed("rate") {
		val, err := fs.GetInt("rate")
		if err != nil {
			return err
		}
		s.Rate = val
	}
	if fs.Changed("timeout") {
		val, err := fs.GetDuration("timeout")
		if err != nil {
			return err
		}
		s.Timeout = val
	}
	if fs.Changed("fail-fast") {
		val, err := fs.GetBool("fail-fast")
		if err != nil {
			return err
		}
		s.FailFast = val
	}
	if fs.Changed("json-output") {
		val, err := fs.GetBool("json-output")
		if err != nil {
			return err
		}
		s.JSONOutput = val
	}
	if fs.Changed("html-output") {
		val, err := fs.GetString("html-output")
		if err != nil {
			return err
		}
		s.HTMLOutput = strings.TrimSpace(val)
	}
	if fs.Changed("log-level") {
		val, err := fs.GetString("log-level")
		if err != nil {
			return err
		}
		s.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("log-json") {
		val, err := fs.GetBool("log-json")
		if err != nil {
			return err
		}
		s.LogJSON = val
	}
	return applyTracingFlags(&s.Tracing, fs)
}

func applyTracingFlags(t *tracing.Config, fs *pflag.FlagSet) error {
	if fs.Changed("tracing-enabled") {
		val, err := fs.GetBool("tracing-enabled")
		if err != nil {
			return err
		}
		t.Enable = val
	}
	if fs.Changed("tracing-endpoint") {
		val, err := fs.GetString("tracing-endpoint")
		if err != nil {
			return err
		}
		t.Endpoint = strings.TrimSpace(val)
	}
	if fs.Changed("tracing-protocol") {
		val, err := fs.GetString("tracing-protocol")
		if err != nil {
			return err
		}
		t.Protocol = strings.ToLower(strings.TrimSpace(val))
	}
	if fs.Changed("tracing-service-name") {
		val, err := fs.GetString("tracing-service-name")
		if err != nil {
			return err
		}
		t.ServiceName = val
	}
	if fs.Changed("tracing-insecure") {
		val, err := fs.GetBool("tracing-insecure")
		if err != nil {
			return err
		}
		t.Insecure = val
	}
	if fs.Changed("tracing-sample-rate") {
		val, err := fs.GetFloat64("tracing-sample-rate")
		if err != nil {
			return err
		}
		t.SampleRate = val
	}
	if fs.Changed("tracing-propagate") {
		val, err := fs.GetBool("tracing-propagate")
		if err != nil {
			return err
		}
		t.Propagate = &val
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}
